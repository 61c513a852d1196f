package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Config carries every tunable the binary reads from the environment.
// Empty backend addresses mean the corresponding in-memory fallback.
type Config struct {
	ServiceName string
	LoggerLevel string

	HTTPAddr string
	GRPCAddr string

	JWTSecret string
	JWTTTL    time.Duration

	MongoURI    string
	MongoDB     string
	RedisAddr   string
	RedisPass   string
	PostgresDSN string
	NATSURL     string

	NotifySubject string

	MatchRadiusMeters float64
	MatchLimit        int
	ReserveTTL        time.Duration

	DispatchPollInterval time.Duration
	DispatchBatchSize    int
	DispatchRetryMax     int

	RateLimitRead  int
	RateLimitWrite int
}

// Load reads .env when present and applies defaults.
func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}
	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "roadassist"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "info"))

	cfg.HTTPAddr = cast.ToString(getOrReturnDefault("HTTP_ADDR", ":8080"))
	cfg.GRPCAddr = cast.ToString(getOrReturnDefault("GRPC_ADDR", ":9090"))

	cfg.JWTSecret = cast.ToString(getOrReturnDefault("JWT_SECRET", "dev-secret-change-me"))
	cfg.JWTTTL = cast.ToDuration(getOrReturnDefault("JWT_TTL", "24h"))

	cfg.MongoURI = cast.ToString(getOrReturnDefault("MONGO_URI", ""))
	cfg.MongoDB = cast.ToString(getOrReturnDefault("MONGO_DB", "roadassist"))
	cfg.RedisAddr = cast.ToString(getOrReturnDefault("REDIS_ADDR", ""))
	cfg.RedisPass = cast.ToString(getOrReturnDefault("REDIS_PASSWORD", ""))
	cfg.PostgresDSN = cast.ToString(getOrReturnDefault("POSTGRES_DSN", ""))
	cfg.NATSURL = cast.ToString(getOrReturnDefault("NATS_URL", ""))

	cfg.NotifySubject = cast.ToString(getOrReturnDefault("NOTIFY_SUBJECT", "push.notifications"))

	cfg.MatchRadiusMeters = cast.ToFloat64(getOrReturnDefault("MATCH_RADIUS_METERS", 5000))
	cfg.MatchLimit = cast.ToInt(getOrReturnDefault("MATCH_LIMIT", 50))
	cfg.ReserveTTL = cast.ToDuration(getOrReturnDefault("RESERVE_TTL", "30s"))

	cfg.DispatchPollInterval = cast.ToDuration(getOrReturnDefault("DISPATCH_POLL_INTERVAL", "200ms"))
	cfg.DispatchBatchSize = cast.ToInt(getOrReturnDefault("DISPATCH_BATCH_SIZE", 100))
	cfg.DispatchRetryMax = cast.ToInt(getOrReturnDefault("DISPATCH_RETRY_MAX", 3))

	cfg.RateLimitRead = cast.ToInt(getOrReturnDefault("RATE_LIMIT_READ", 100))
	cfg.RateLimitWrite = cast.ToInt(getOrReturnDefault("RATE_LIMIT_WRITE", 20))

	return cfg
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
