package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyCaller = "caller_address"
	bearerPrefix     = "Bearer "
)

var errMissingSubject = errors.New("token subject is empty")

// authMiddleware accepts HS256 bearer tokens whose subject names the caller
// address. Requests without a valid token never reach the handlers.
func authMiddleware(signingKey []byte, issuer string) gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	return func(ctx *gin.Context) {
		caller, err := callerFromHeader(ctx.GetHeader("Authorization"), signingKey, parserOptions)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid bearer token"))
			return
		}
		ctx.Set(contextKeyCaller, caller)
		ctx.Next()
	}
}

func callerFromHeader(header string, signingKey []byte, parserOptions []jwt.ParserOption) (escrow.Address, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return escrow.Address{}, jwt.ErrTokenMalformed
	}
	rawToken := strings.TrimPrefix(header, bearerPrefix)
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, parserOptions...); err != nil {
		return escrow.Address{}, err
	}
	if claims.Subject == "" {
		return escrow.Address{}, errMissingSubject
	}
	return escrow.NewAddress(claims.Subject)
}

func getCaller(ctx *gin.Context) (escrow.Address, bool) {
	callerValue, ok := ctx.Get(contextKeyCaller)
	if !ok {
		return escrow.Address{}, false
	}
	caller, ok := callerValue.(escrow.Address)
	return caller, ok
}
