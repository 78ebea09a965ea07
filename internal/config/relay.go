package config

import "time"

type Relay struct {
	Addr string

	DBDriver string
	DBSource string

	JWTSecret string

	RateLimit struct {
		RPS   float64
		Burst int
	}

	Redis struct {
		URL     string
		Channel string
	}

	Retention struct {
		Enabled bool
		Cron    string
		MaxAge  time.Duration
	}

	Logging struct {
		Level  string
		Format string
	}
}

// LoadRelay reads the relay server configuration from the environment.
func LoadRelay() *Relay {
	c := &Relay{
		Addr:      getEnv("RELAY_ADDR", ":3001"),
		DBDriver:  getEnv("RELAY_DB_DRIVER", "sqlite3"),
		DBSource:  getEnv("RELAY_DB_SOURCE", "relay.db"),
		JWTSecret: getEnv("RELAY_JWT_SECRET", ""),
	}
	c.RateLimit.RPS = getEnvFloat("RELAY_RATE_RPS", 5)
	c.RateLimit.Burst = getEnvInt("RELAY_RATE_BURST", 10)
	c.Redis.URL = getEnv("RELAY_REDIS_URL", "")
	c.Redis.Channel = getEnv("RELAY_REDIS_CHANNEL", "bizdir:private-messages")
	c.Retention.Enabled = getEnvBool("RELAY_RETENTION_ENABLED", false)
	c.Retention.Cron = getEnv("RELAY_RETENTION_CRON", "0 2 * * *")
	c.Retention.MaxAge = getEnvDuration("RELAY_RETENTION_MAX_AGE", 90*24*time.Hour)
	c.Logging.Level = getEnv("RELAY_LOG_LEVEL", "info")
	c.Logging.Format = getEnv("RELAY_LOG_FORMAT", "text")
	return c
}
