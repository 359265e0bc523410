package config

import (
	"sync"

	"github.com/joho/godotenv"
)

// Config is everything the identity server needs.
type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	RedisConfig
	BootstrapConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetLogLevel() string
	GetEnv() string
	GetBaseURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Token
	Redis
	Bootstrap
}

var loadDotEnv sync.Once

// New loads a .env file if one is present and returns the env backed server config.
func New() Config {
	LoadDotEnv()
	return mainConfig{}
}

// LoadDotEnv reads .env into the process environment. Missing files are ignored,
// real environment variables always win.
func LoadDotEnv() {
	loadDotEnv.Do(func() {
		_ = godotenv.Load()
	})
}
