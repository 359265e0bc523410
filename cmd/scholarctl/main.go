package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jrsteele09/scholarhub-auth/authclient"
	"github.com/jrsteele09/scholarhub-auth/internal/config"
	"github.com/jrsteele09/scholarhub-auth/internal/logging"
	"github.com/jrsteele09/scholarhub-auth/session"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd, a := newRootCmd(config.NewClient())
	err := rootCmd.Execute()
	if closeErr := a.shutdown(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	apiURL    string
	storeKind string
	storePath string
	policy    string
	logLevel  string
}

// app is the session a command runs against. It is built once per invocation.
type app struct {
	svc   *authclient.Service
	store session.Store
	close func() error
}

// newRootCmd returns the command tree and the session its commands share. Call app.shutdown after Execute.
func newRootCmd(cfg config.ClientConfig) (*cobra.Command, *app) {
	opts := &options{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "scholarctl",
		Short: "Command line session client for the ScholarHub identity API",
		Long: `scholarctl signs in to the ScholarHub identity API and keeps the session
between runs. Requests that hit an expired access token refresh it once and retry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(cfg, opts); err != nil {
				return err
			}
			return gate(cmd, a.svc)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", cfg.GetAPIBaseURL(), "identity API base URL")
	flags.StringVar(&opts.storeKind, "store", cfg.GetStoreKind(), "session store: file or sqlite")
	flags.StringVar(&opts.storePath, "store-path", "", "session store location (default depends on --store)")
	flags.StringVar(&opts.policy, "refresh-policy", cfg.GetRefreshPolicy(), "concurrent 401 handling: fail-fast or wait")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(
		loginCmd(a),
		logoutCmd(a),
		whoamiCmd(a),
		refreshCmd(a),
		statusCmd(a),
		signupCmd(a),
		changePasswordCmd(a),
		forgotPasswordCmd(a),
		resetPasswordCmd(a),
		adminCmd(a),
	)
	return rootCmd, a
}

func (a *app) open(cfg config.ClientConfig, opts *options) error {
	logger := logging.New("DEV", opts.logLevel)

	path := opts.storePath
	if path == "" {
		path = defaultStorePath(cfg, opts.storeKind)
	}
	store, closer, err := openStore(opts.storeKind, path)
	if err != nil {
		return err
	}
	a.store = store
	a.close = closer
	a.svc = authclient.New(opts.apiURL, store,
		authclient.WithHTTPClient(&http.Client{Timeout: cfg.GetHTTPTimeout()}),
		authclient.WithCodec(token.NewCodec(token.WithExpirySkew(cfg.GetExpirySkew()))),
		authclient.WithRefreshPolicy(authclient.ParseRefreshPolicy(opts.policy)),
		authclient.WithLogger(logger),
	)
	return nil
}

func (a *app) shutdown() error {
	if a.close == nil {
		return nil
	}
	closer := a.close
	a.close = nil
	return closer()
}

// defaultStorePath keeps the configured path unless it belongs to the other store kind.
func defaultStorePath(cfg config.ClientConfig, kind string) string {
	p := cfg.GetStorePath()
	if kind == cfg.GetStoreKind() {
		return p
	}
	name := "session.json"
	if kind == "sqlite" {
		name = "session.db"
	}
	return filepath.Join(filepath.Dir(p), name)
}

func openStore(kind, path string) (session.Store, func() error, error) {
	noop := func() error { return nil }
	switch kind {
	case "file":
		fs, err := session.NewFileStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open file store: %w", err)
		}
		return fs, noop, nil
	case "sqlite":
		ss, err := session.OpenSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return ss, ss.Close, nil
	case "memory":
		return session.NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q, use file or sqlite", kind)
	}
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	printf(w, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}
