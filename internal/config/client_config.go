package config

import (
	"os"
	"path/filepath"
	"time"
)

// ClientConfig configures the command-line session client.
type ClientConfig interface {
	GetAPIBaseURL() string
	GetStoreKind() string
	GetStorePath() string
	GetRefreshPolicy() string
	GetHTTPTimeout() time.Duration
	GetExpirySkew() time.Duration
}

type Client struct{}

var _ ClientConfig = Client{}

// NewClient loads .env and returns the env backed client config.
func NewClient() ClientConfig {
	LoadDotEnv()
	return Client{}
}

func (Client) GetAPIBaseURL() string {
	return GetEnv("SCHOLARHUB_API_URL", "http://localhost:8080")
}

// GetStoreKind is "file" or "sqlite".
func (Client) GetStoreKind() string {
	return GetEnv("SCHOLARHUB_STORE", "file")
}

// GetStorePath defaults to a file under the user config dir, the same place across restarts.
func (c Client) GetStorePath() string {
	if p := GetEnv("SCHOLARHUB_STORE_PATH", ""); p != "" {
		return p
	}
	name := "session.json"
	if c.GetStoreKind() == "sqlite" {
		name = "session.db"
	}
	return filepath.Join(userConfigDir(), "scholarhub", name)
}

// GetRefreshPolicy is "fail-fast" or "wait".
func (Client) GetRefreshPolicy() string {
	return GetEnv("SCHOLARHUB_REFRESH_POLICY", "fail-fast")
}

func (Client) GetHTTPTimeout() time.Duration {
	return GetEnvDuration("CLIENT_HTTP_TIMEOUT", 20*time.Second)
}

func (Client) GetExpirySkew() time.Duration {
	return GetEnvDuration("TOKEN_EXPIRY_SKEW", 10*time.Second)
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}
