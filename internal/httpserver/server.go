// Package httpserver exposes the escrow service over an authenticated JSON
// API. Callers are identified by the subject of their bearer token; the
// service enforces who may hit which operation.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/escrow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maximumListLimit = 200
)

// Run serves the API until the context is cancelled.
func Run(ctx context.Context, cfg Config, service *escrow.Service, logger *zap.Logger) error {
	cfg = cfg.withDefaults()
	if len(cfg.SigningKey) == 0 {
		return fmt.Errorf("httpserver: signing key is required")
	}

	router := NewRouter(cfg, service, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrow api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires the gin engine, middleware and routes.
func NewRouter(cfg Config, service *escrow.Service, logger *zap.Logger) *gin.Engine {
	cfg = cfg.withDefaults()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{logger: logger, service: service}

	api := router.Group("/api")
	api.Use(authMiddleware(cfg.SigningKey, cfg.TokenIssuer))

	api.POST("/classes", handler.handleCreateClass)
	api.GET("/classes", handler.handleListClasses)
	api.GET("/classes/:class_id", handler.handleGetClass)

	api.POST("/hotels", handler.handleRegisterHotel)
	api.GET("/hotels", handler.handleListHotels)
	api.GET("/hotels/:hotel_id", handler.handleGetHotel)
	api.POST("/hotels/:hotel_id/classes", handler.handleLinkClass)

	api.POST("/bookings", handler.handleCreateBooking)
	api.GET("/bookings", handler.handleListBookings)
	api.GET("/bookings/:booking_id", handler.handleGetBooking)
	api.POST("/bookings/:booking_id/check-in", handler.handleConfirmCheckIn)
	api.POST("/bookings/:booking_id/refund-deposit", handler.handleRefundDeposit)
	api.POST("/bookings/:booking_id/charge-deposit", handler.handleChargeDeposit)
	api.POST("/bookings/:booking_id/full-refund", handler.handleFullRefund)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *escrow.Service
}

type createClassRequest struct {
	Name               string `json:"name"`
	PricePerNightCents int64  `json:"price_per_night_cents"`
}

type registerHotelRequest struct {
	Name          string `json:"name"`
	PayoutAddress string `json:"payout_address"`
}

type linkClassRequest struct {
	ClassID int64 `json:"class_id"`
}

type createBookingRequest struct {
	HotelID      int64           `json:"hotel_id"`
	ClassID      int64           `json:"class_id"`
	Nights       int64           `json:"nights"`
	DepositCents int64           `json:"deposit_cents"`
	Metadata     json.RawMessage `json:"metadata"`
}

type chargeDepositRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type classPayload struct {
	ClassID            int64  `json:"class_id"`
	Name               string `json:"name"`
	PricePerNightCents int64  `json:"price_per_night_cents"`
}

type hotelPayload struct {
	HotelID       int64          `json:"hotel_id"`
	Name          string         `json:"name"`
	PayoutAddress string         `json:"payout_address"`
	Classes       []classPayload `json:"classes,omitempty"`
}

type bookingPayload struct {
	BookingID       int64           `json:"booking_id"`
	Customer        string          `json:"customer"`
	HotelID         int64           `json:"hotel_id"`
	ClassID         int64           `json:"class_id"`
	Nights          int64           `json:"nights"`
	RoomCostCents   int64           `json:"room_cost_cents"`
	DepositCents    int64           `json:"deposit_cents"`
	CustodyCents    int64           `json:"custody_cents"`
	PaidRoom        bool            `json:"paid_room"`
	RoomReleased    bool            `json:"room_released"`
	DepositReleased bool            `json:"deposit_released"`
	Metadata        json.RawMessage `json:"metadata"`
	CreatedUnixUTC  int64           `json:"created_unix_utc"`
}

func (handler *httpHandler) handleCreateClass(ctx *gin.Context) {
	caller, ok := getCaller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
		return
	}
	var request createClassRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	classID, err := handler.service.CreateClass(ctx.Request.Context(), caller, request.Name, escrow.AmountCents(request.PricePerNightCents))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"class_id": classID.Int64()})
}

func (handler *httpHandler) handleListClasses(ctx *gin.Context) {
	classes, err := handler.service.ListClasses(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]classPayload, 0, len(classes))
	for _, class := range classes {
		payload = append(payload, classToPayload(class))
	}
	ctx.JSON(http.StatusOK, gin.H{"classes": payload})
}

func (handler *httpHandler) handleGetClass(ctx *gin.Context) {
	classID, ok := pathID(ctx, "class_id")
	if !ok {
		return
	}
	class, err := handler.service.GetClass(ctx.Request.Context(), escrow.ClassID(classID))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, classToPayload(class))
}

func (handler *httpHandler) handleRegisterHotel(ctx *gin.Context) {
	caller, ok := getCaller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
		return
	}
	var request registerHotelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	payoutAddress, err := escrow.NewAddress(request.PayoutAddress)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	hotelID, err := handler.service.RegisterHotel(ctx.Request.Context(), caller, request.Name, payoutAddress)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"hotel_id": hotelID.Int64()})
}

func (handler *httpHandler) handleListHotels(ctx *gin.Context) {
	hotels, err := handler.service.ListHotelsWithClasses(ctx.Request.Context())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]hotelPayload, 0, len(hotels))
	for _, entry := range hotels {
		hotel := hotelToPayload(entry.Hotel)
		hotel.Classes = make([]classPayload, 0, len(entry.Classes))
		for _, class := range entry.Classes {
			hotel.Classes = append(hotel.Classes, classToPayload(class))
		}
		payload = append(payload, hotel)
	}
	ctx.JSON(http.StatusOK, gin.H{"hotels": payload})
}

func (handler *httpHandler) handleGetHotel(ctx *gin.Context) {
	hotelID, ok := pathID(ctx, "hotel_id")
	if !ok {
		return
	}
	hotel, err := handler.service.GetHotel(ctx.Request.Context(), escrow.HotelID(hotelID))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, hotelToPayload(hotel))
}

func (handler *httpHandler) handleLinkClass(ctx *gin.Context) {
	caller, ok := getCaller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
		return
	}
	hotelID, ok := pathID(ctx, "hotel_id")
	if !ok {
		return
	}
	var request linkClassRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	err := handler.service.LinkClass(ctx.Request.Context(), caller, escrow.HotelID(hotelID), escrow.ClassID(request.ClassID))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "linked"})
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	caller, ok := getCaller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
		return
	}
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	metadata, err := escrow.NewMetadataJSON(string(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	bookingID, err := handler.service.CreateBooking(
		ctx.Request.Context(),
		caller,
		escrow.HotelID(request.HotelID),
		escrow.ClassID(request.ClassID),
		escrow.Nights(request.Nights),
		escrow.AmountCents(request.DepositCents),
		metadata,
	)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking_id": bookingID.Int64()})
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	limit, err := normalizeListLimit(ctx.Query("limit"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", err.Error()))
		return
	}
	bookings, err := handler.service.ListBookings(ctx.Request.Context(), limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]bookingPayload, 0, len(bookings))
	for _, booking := range bookings {
		payload = append(payload, bookingToPayload(booking))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payload})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	bookingID, ok := pathID(ctx, "booking_id")
	if !ok {
		return
	}
	booking, err := handler.service.GetBooking(ctx.Request.Context(), escrow.BookingID(bookingID))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, bookingToPayload(booking))
}

func (handler *httpHandler) handleConfirmCheckIn(ctx *gin.Context) {
	handler.settle(ctx, func(requestContext context.Context, caller escrow.Address, bookingID escrow.BookingID) error {
		return handler.service.ConfirmCheckIn(requestContext, caller, bookingID)
	})
}

func (handler *httpHandler) handleRefundDeposit(ctx *gin.Context) {
	handler.settle(ctx, func(requestContext context.Context, caller escrow.Address, bookingID escrow.BookingID) error {
		return handler.service.RefundDeposit(requestContext, caller, bookingID)
	})
}

func (handler *httpHandler) handleChargeDeposit(ctx *gin.Context) {
	var request chargeDepositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	handler.settle(ctx, func(requestContext context.Context, caller escrow.Address, bookingID escrow.BookingID) error {
		return handler.service.ChargeDeposit(requestContext, caller, bookingID, escrow.AmountCents(request.AmountCents))
	})
}

func (handler *httpHandler) handleFullRefund(ctx *gin.Context) {
	handler.settle(ctx, func(requestContext context.Context, caller escrow.Address, bookingID escrow.BookingID) error {
		return handler.service.FullRefund(requestContext, caller, bookingID)
	})
}

// settle factors the shared shape of the four release endpoints.
func (handler *httpHandler) settle(ctx *gin.Context, invoke func(requestContext context.Context, caller escrow.Address, bookingID escrow.BookingID) error) {
	caller, ok := getCaller(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing caller"))
		return
	}
	bookingIDValue, ok := pathID(ctx, "booking_id")
	if !ok {
		return
	}
	bookingID := escrow.BookingID(bookingIDValue)
	if err := invoke(ctx.Request.Context(), caller, bookingID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	booking, err := handler.service.GetBooking(ctx.Request.Context(), bookingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, bookingToPayload(booking))
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	httpStatus, code := mapToHTTPStatus(err)
	if httpStatus >= http.StatusInternalServerError {
		handler.logger.Error("escrow operation failed", zap.Error(err))
	}
	ctx.JSON(httpStatus, errorResponse(code, err.Error()))
}

func pathID(ctx *gin.Context, name string) (int64, bool) {
	raw := ctx.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", fmt.Sprintf("%s must be a positive integer", name)))
		return 0, false
	}
	return id, true
}

func normalizeListLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maximumListLimit {
		return 0, fmt.Errorf("limit must not exceed %d", maximumListLimit)
	}
	return limit, nil
}

func mapToHTTPStatus(source error) (int, string) {
	switch {
	case errors.Is(source, escrow.ErrNotAdministrator):
		return http.StatusForbidden, "not_administrator"
	case errors.Is(source, escrow.ErrNotHotelPayout):
		return http.StatusForbidden, "not_hotel_payout"
	case errors.Is(source, escrow.ErrUnknownClass),
		errors.Is(source, escrow.ErrUnknownHotel),
		errors.Is(source, escrow.ErrUnknownBooking):
		return http.StatusNotFound, "not_found"
	case errors.Is(source, escrow.ErrClassNotOffered):
		return http.StatusNotFound, "class_not_offered"
	case errors.Is(source, escrow.ErrRoomAlreadyReleased),
		errors.Is(source, escrow.ErrDepositAlreadyReleased):
		return http.StatusConflict, "already_released"
	case errors.Is(source, escrow.ErrRoomUnpaid):
		return http.StatusConflict, "room_unpaid"
	case errors.Is(source, escrow.ErrTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(source, escrow.ErrInvalidClassName),
		errors.Is(source, escrow.ErrInvalidPricePerNight),
		errors.Is(source, escrow.ErrInvalidHotelName),
		errors.Is(source, escrow.ErrInvalidAddress),
		errors.Is(source, escrow.ErrInvalidNights),
		errors.Is(source, escrow.ErrInvalidAmountCents),
		errors.Is(source, escrow.ErrInvalidClassID),
		errors.Is(source, escrow.ErrInvalidHotelID),
		errors.Is(source, escrow.ErrInvalidBookingID),
		errors.Is(source, escrow.ErrInvalidMetadataJSON),
		errors.Is(source, escrow.ErrEmptyBookingTotal):
		return http.StatusBadRequest, "invalid_argument"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func classToPayload(class escrow.RoomClass) classPayload {
	return classPayload{
		ClassID:            class.ClassID.Int64(),
		Name:               class.Name,
		PricePerNightCents: class.PricePerNightCents.Int64(),
	}
}

func hotelToPayload(hotel escrow.Hotel) hotelPayload {
	return hotelPayload{
		HotelID:       hotel.HotelID.Int64(),
		Name:          hotel.Name,
		PayoutAddress: hotel.PayoutAddress.String(),
	}
}

func bookingToPayload(booking escrow.Booking) bookingPayload {
	return bookingPayload{
		BookingID:       booking.BookingID.Int64(),
		Customer:        booking.Customer.String(),
		HotelID:         booking.HotelID.Int64(),
		ClassID:         booking.ClassID.Int64(),
		Nights:          booking.Nights.Int64(),
		RoomCostCents:   booking.RoomCostCents.Int64(),
		DepositCents:    booking.DepositCents.Int64(),
		CustodyCents:    booking.CustodyCents().Int64(),
		PaidRoom:        booking.PaidRoom,
		RoomReleased:    booking.RoomReleased,
		DepositReleased: booking.DepositReleased,
		Metadata:        json.RawMessage(booking.Metadata.String()),
		CreatedUnixUTC:  booking.CreatedUnixUTC,
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
