package httpserver

import "time"

const (
	defaultListenAddr      = ":8080"
	defaultShutdownTimeout = 5 * time.Second
)

// Config carries the HTTP façade settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	SigningKey     []byte
	TokenIssuer    string
}

func (cfg Config) withDefaults() Config {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return cfg
}
