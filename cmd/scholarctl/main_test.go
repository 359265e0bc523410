package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/scholarhub-auth/auth"
	fakeresetrepo "github.com/jrsteele09/scholarhub-auth/auth/repofakes"
	"github.com/jrsteele09/scholarhub-auth/internal/config"
	"github.com/jrsteele09/scholarhub-auth/server"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/token/refresh"
	refreshrepofake "github.com/jrsteele09/scholarhub-auth/token/refresh/repofake"
	fakeuserrepo "github.com/jrsteele09/scholarhub-auth/users/repofake"
	"github.com/stretchr/testify/require"
)

const (
	adminEmail   = "admin@example.com"
	testPassword = "Password123"
)

type serverConfig struct {
	config.EnvVars
	config.Cors
}

type bootstrapConfig struct{}

func (bootstrapConfig) GetAdminEmail() string    { return adminEmail }
func (bootstrapConfig) GetAdminPassword() string { return testPassword }

type clientConfig struct {
	apiURL string
	dir    string
	kind   string
}

func (c clientConfig) GetAPIBaseURL() string         { return c.apiURL }
func (c clientConfig) GetStoreKind() string          { return c.kind }
func (c clientConfig) GetRefreshPolicy() string      { return "fail-fast" }
func (c clientConfig) GetHTTPTimeout() time.Duration { return 5 * time.Second }
func (c clientConfig) GetExpirySkew() time.Duration  { return 10 * time.Second }
func (c clientConfig) GetStorePath() string {
	if c.kind == "sqlite" {
		return filepath.Join(c.dir, "session.db")
	}
	return filepath.Join(c.dir, "session.json")
}

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("ENV", "TEST")

	svc, err := auth.NewService(
		auth.Repos{Users: fakeuserrepo.NewFakeUserRepo(), ResetTokens: fakeresetrepo.NewFakeResetTokenRepo()},
		token.NewIssuer(token.NewHMACSigner("scholarctl-test")),
		refresh.NewManager(refreshrepofake.NewFakeRefreshTokenRepo()),
	)
	require.NoError(t, err)
	s, err := server.New(serverConfig{}, svc)
	require.NoError(t, err)
	require.NoError(t, s.InitialiseSystem(bootstrapConfig{}))

	api := httptest.NewServer(s)
	t.Cleanup(api.Close)
	return api
}

// run executes one scholarctl invocation, the way a shell would.
func run(t *testing.T, cfg clientConfig, stdin string, args ...string) (string, error) {
	t.Helper()
	rootCmd, a := newRootCmd(cfg)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	require.NoError(t, a.shutdown())
	return out.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	api := newAPI(t)
	cfg := clientConfig{apiURL: api.URL, dir: t.TempDir(), kind: "file"}

	out, err := run(t, cfg, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in: no")

	_, err = run(t, cfg, "", "whoami")
	require.ErrorIs(t, err, errNotLoggedIn)

	out, err = run(t, cfg, "", "signup", "--email", "ada@example.com", "--role", "student",
		"--first-name", "Ada", "--last-name", "Lovelace", "--password", testPassword)
	require.NoError(t, err)
	require.Contains(t, out, "ada@example.com (student)")

	out, err = run(t, cfg, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "ada@example.com")
	require.Contains(t, out, "Access token:  valid")

	out, err = run(t, cfg, "", "whoami")
	require.NoError(t, err)
	require.Contains(t, out, "Ada Lovelace")

	_, err = run(t, cfg, "", "admin", "users")
	require.ErrorIs(t, err, errNotAuthorized)

	out, err = run(t, cfg, "", "refresh")
	require.NoError(t, err)
	require.Contains(t, out, "session refreshed")

	out, err = run(t, cfg, "", "change-password", "--current", testPassword, "--new", testPassword+"X")
	require.NoError(t, err)
	require.Contains(t, out, "password changed")

	_, err = run(t, cfg, "", "logout")
	require.NoError(t, err)

	out, err = run(t, cfg, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in: no")

	_, err = run(t, cfg, "", "refresh")
	require.ErrorIs(t, err, errNotLoggedIn)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	api := newAPI(t)
	cfg := clientConfig{apiURL: api.URL, dir: t.TempDir(), kind: "file"}

	out, err := run(t, cfg, testPassword+"\n", "login", "--email", adminEmail)
	require.NoError(t, err)
	require.Contains(t, out, "signed in as "+adminEmail+" (admin)")

	_, err = run(t, cfg, "wrong\n", "login", "--email", adminEmail)
	require.Error(t, err)

	// A failed login leaves the existing session alone.
	out, err = run(t, cfg, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, adminEmail)
}

func TestAdminCommandsWithSQLiteStore(t *testing.T) {
	api := newAPI(t)
	dir := t.TempDir()
	student := clientConfig{apiURL: api.URL, dir: filepath.Join(dir, "student"), kind: "sqlite"}
	admin := clientConfig{apiURL: api.URL, dir: filepath.Join(dir, "admin"), kind: "sqlite"}

	_, err := run(t, student, "", "signup", "--email", "sam@example.com", "--role", "provider", "--password", testPassword)
	require.NoError(t, err)

	_, err = run(t, admin, "", "login", "--email", adminEmail, "--password", testPassword)
	require.NoError(t, err)

	out, err := run(t, admin, "", "admin", "users")
	require.NoError(t, err)
	require.Contains(t, out, "sam@example.com")
	require.Contains(t, out, adminEmail)

	_, err = run(t, admin, "", "admin", "block", "sam@example.com")
	require.NoError(t, err)

	// The blocked user's refresh token is gone: the refresh fails and clears the session.
	_, err = run(t, student, "", "refresh")
	require.Error(t, err)

	out, err = run(t, student, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "Signed in: no")
}

func TestSignupResume(t *testing.T) {
	api := newAPI(t)
	cfg := clientConfig{apiURL: api.URL, dir: t.TempDir(), kind: "file"}

	_, err := run(t, cfg, "", "signup", "--email", "grace@example.com", "--role", "provider",
		"--first-name", "Grace", "--password", "weak")
	require.Error(t, err)
	require.Contains(t, err.Error(), "--resume")

	out, err := run(t, cfg, "", "status")
	require.NoError(t, err)
	require.Contains(t, out, "Pending signup: grace@example.com (provider)")

	out, err = run(t, cfg, "", "signup", "--resume", "--password", testPassword)
	require.NoError(t, err)
	require.Contains(t, out, "grace@example.com (provider)")

	out, err = run(t, cfg, "", "status")
	require.NoError(t, err)
	require.NotContains(t, out, "Pending signup")

	_, err = run(t, cfg, "", "signup", "--resume")
	require.ErrorContains(t, err, "no pending signup")
}

func TestSignupRejectsAdminRole(t *testing.T) {
	cfg := clientConfig{apiURL: "http://127.0.0.1:0", dir: t.TempDir(), kind: "file"}
	_, err := run(t, cfg, "", "signup", "--email", "x@example.com", "--role", "admin", "--password", testPassword)
	require.ErrorContains(t, err, "role must be")
}

func TestUnknownStore(t *testing.T) {
	cfg := clientConfig{apiURL: "http://127.0.0.1:0", dir: t.TempDir(), kind: "file"}
	_, err := run(t, cfg, "", "--store", "etcd", "status")
	require.ErrorContains(t, err, "unknown store")
}
