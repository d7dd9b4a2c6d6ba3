package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment     string
	Addr            string
	DatabaseURL     string
	MigrationsDir   string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Step worker knobs. FailureRate is the per-run probability of an
	// injected failure; FailureSeed fixes the pseudo-random source (0 means
	// seed from the clock); StepEffortUnit is the wall-clock value of one
	// abstract effort unit.
	FailureRate    float64
	FailureSeed    int64
	StepEffortUnit time.Duration

	// Connection hand-off fields reported on deployment completion.
	ConnectionDomain string
	ServerPort       int

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:     GetString("APP_ENV", "development"),
		Addr:            GetString("API_ADDR", ":4000"),
		DatabaseURL:     GetString("DATABASE_URL", "postgres://pterodeploy:pterodeploy@db:5432/pterodeploy?sslmode=disable"),
		MigrationsDir:   GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:       GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:  time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTokenTTL: time.Duration(GetInt("REFRESH_TOKEN_TTL_HOURS", 24)) * time.Hour,

		FailureRate:    GetFloat("SIMULATED_FAILURE_RATE", 0.2),
		FailureSeed:    GetInt64("SIMULATED_FAILURE_SEED", 0),
		StepEffortUnit: time.Duration(GetInt("STEP_EFFORT_UNIT_MS", 400)) * time.Millisecond,

		ConnectionDomain: GetString("CONNECTION_DOMAIN", "play.pterodeploy.local"),
		ServerPort:       GetInt("SERVER_PORT", 25565),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
