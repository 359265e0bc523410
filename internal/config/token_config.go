package config

import (
	"strings"
	"time"
)

type TokenConfig interface {
	GetTokenSecret() string
	GetRetiredTokenSecrets() []string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetResetTokenExpiry() time.Duration
}

type Token struct{}

var _ TokenConfig = Token{}

func (Token) GetTokenSecret() string {
	return GetEnv("TOKEN_SECRET", "dev-secret-change-me")
}

// GetRetiredTokenSecrets reads TOKEN_SECRET_RETIRED, a comma separated list of earlier secrets whose
// tokens are still accepted.
func (Token) GetRetiredTokenSecrets() []string {
	var secrets []string
	for _, s := range strings.Split(GetEnv("TOKEN_SECRET_RETIRED", ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}
	return secrets
}

func (Token) GetAccessTokenExpiry() time.Duration {
	return GetEnvDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (Token) GetRefreshTokenExpiry() time.Duration {
	return GetEnvDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour)
}

func (Token) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

func (Token) GetResetTokenExpiry() time.Duration {
	return GetEnvDuration("RESET_TOKEN_EXPIRY", time.Hour)
}

type RedisConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

// Redis is optional: an empty address keeps refresh tokens in memory.
type Redis struct{}

var _ RedisConfig = Redis{}

func (Redis) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "")
}

func (Redis) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Redis) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

type BootstrapConfig interface {
	GetAdminEmail() string
	GetAdminPassword() string
}

type Bootstrap struct{}

var _ BootstrapConfig = Bootstrap{}

func (Bootstrap) GetAdminEmail() string {
	return GetEnv("ADMIN_EMAIL", "admin@scholarhub.local")
}

func (Bootstrap) GetAdminPassword() string {
	return GetEnv("ADMIN_PASSWORD", "")
}
