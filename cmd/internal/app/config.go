package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout must stay above the stream session max age or SSE
	// sessions get cut mid-flight.
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// SessionKey signs session tokens and CSRF tokens. When empty and
	// RequireSessionKey is false, a throwaway key is generated at boot
	// (dev mode: sessions do not survive restarts).
	SessionKey        string
	RequireSessionKey bool

	// Users seeds the mention directory: "id:name:role,id:name:role".
	Users string

	// PreviewCacheDir selects the on-disk link-preview cache. Empty
	// means in-memory cache (dev mode).
	PreviewCacheDir string
	PreviewTTL      time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("TR_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("TR_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("TR_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TR_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TR_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       EnvDuration("TR_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TR_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TR_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("TR_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TR_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("TR_READINESS_REQUIRE_DB", false),

		SessionKey:        EnvString("TR_SESSION_KEY", ""),
		RequireSessionKey: EnvBool("TR_REQUIRE_SESSION_KEY", false),

		Users: EnvString("TR_USERS", ""),

		PreviewCacheDir: EnvString("TR_PREVIEW_CACHE_DIR", ""),
		PreviewTTL:      EnvDuration("TR_PREVIEW_TTL", 24*time.Hour),
	}
}
