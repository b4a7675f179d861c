package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AnalyticsTTLSeconds   int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LoginAttemptLimit     int
	SweepHour             string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	analyticsTTL, err := strconv.Atoi(getEnv("ANALYTICS_CACHE_TTL_SECONDS", "60"))
	if err != nil || analyticsTTL < 1 {
		analyticsTTL = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	attemptLimit, err := strconv.Atoi(getEnv("LOGIN_ATTEMPT_LIMIT", "10"))
	if err != nil || attemptLimit < 1 {
		attemptLimit = 10
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AnalyticsTTLSeconds:   analyticsTTL,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LoginAttemptLimit:     attemptLimit,
		SweepHour:             getEnv("NOTIFICATION_SWEEP_AT", "01:00"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
