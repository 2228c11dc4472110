package api

import "time"

type ServerConfig struct {
	Host     string `mapstructure:"host" json:"host,omitempty"`
	Port     int64  `mapstructure:"port" json:"port,omitempty"`
	Database struct {
		DSN string `mapstructure:"dsn" json:"dsn,omitempty"`
	} `mapstructure:"database" json:"database,omitempty"`
	// AuthDisabled accepts X-Caller-Address without a signature. Local use only.
	// SignatureWindow is how far X-Caller-Timestamp may drift from now.
	AuthDisabled    bool          `mapstructure:"auth_disabled" json:"auth_disabled,omitempty"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl" json:"idempotency_ttl,omitempty"`
	SignatureWindow time.Duration `mapstructure:"signature_window" json:"signature_window,omitempty"`
	BodyLimit       string        `mapstructure:"body_limit" json:"body_limit,omitempty"`
	RateLimit       float64       `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
	RateBurst       int           `mapstructure:"rate_burst" json:"rate_burst,omitempty"`
}
