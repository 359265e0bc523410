package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/scholarhub-auth/auth"
	fakeresetrepo "github.com/jrsteele09/scholarhub-auth/auth/repofakes"
	"github.com/jrsteele09/scholarhub-auth/internal/config"
	"github.com/jrsteele09/scholarhub-auth/internal/logging"
	"github.com/jrsteele09/scholarhub-auth/server"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/token/refresh"
	"github.com/jrsteele09/scholarhub-auth/token/refresh/redisrepo"
	refreshrepofake "github.com/jrsteele09/scholarhub-auth/token/refresh/repofake"
	"github.com/jrsteele09/scholarhub-auth/users"
	fakeuserrepo "github.com/jrsteele09/scholarhub-auth/users/repofake"
	"github.com/rs/zerolog/log"
)

const revocationPruneInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logging.SetGlobal(logging.New(c.GetEnv(), c.GetLogLevel()))
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	refreshRepo, closeRepo, err := newRefreshTokenRepo(ctx, c)
	if err != nil {
		return err
	}
	defer closeRepo()

	issuer := token.NewIssuer(token.NewHMACSigner(c.GetTokenSecret(), c.GetRetiredTokenSecrets()...),
		token.WithIssuer(c.GetBaseURL()),
		token.WithAccessTokenExpiry(c.GetAccessTokenExpiry()),
	)
	refreshTokens := refresh.NewManager(refreshRepo,
		refresh.WithExpiry(c.GetRefreshTokenExpiry()),
		refresh.WithTokenLength(c.GetRefreshTokenLength()),
	)
	authService, err := auth.NewService(
		auth.Repos{
			Users:       fakeuserrepo.NewFakeUserRepo(), // in-memory user store
			ResetTokens: fakeresetrepo.NewFakeResetTokenRepo(),
		},
		issuer,
		refreshTokens,
		auth.WithResetTokenExpiry(c.GetResetTokenExpiry()),
		auth.WithResetNotifier(logResetToken(c.GetEnv())),
	)
	if err != nil {
		return fmt.Errorf("auth.NewService: %w", err)
	}

	s, err := server.New(c, authService)
	if err != nil {
		return err
	}
	if err := s.InitialiseSystem(c); err != nil {
		return err
	}

	go pruneRevocations(ctx, authService)

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(httpServer) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	return shutdown(httpServer)
}

// newRefreshTokenRepo uses Redis when REDIS_ADDR is set, otherwise an in-memory repo.
func newRefreshTokenRepo(ctx context.Context, c config.RedisConfig) (refresh.Repo, func(), error) {
	if c.GetRedisAddr() == "" {
		log.Info().Msg("Refresh tokens stored in memory")
		return refreshrepofake.NewFakeRefreshTokenRepo(), func() {}, nil
	}
	client, err := redisrepo.NewClient(ctx, c.GetRedisAddr(), c.GetRedisPassword(), c.GetRedisDB())
	if err != nil {
		return nil, nil, fmt.Errorf("redisrepo.NewClient: %w", err)
	}
	log.Info().Str("addr", c.GetRedisAddr()).Msg("Refresh tokens stored in redis")
	return redisrepo.New(client), func() { _ = client.Close() }, nil
}

// logResetToken stands in for email delivery. The token itself is only logged in DEV.
func logResetToken(env string) auth.ResetNotifier {
	return func(user *users.User, resetToken string) {
		event := log.Info().Str("email", user.Email)
		if env == "DEV" {
			event = event.Str("resetToken", resetToken)
		}
		event.Msg("password reset requested")
	}
}

func pruneRevocations(ctx context.Context, authService *auth.Service) {
	ticker := time.NewTicker(revocationPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := authService.PruneRevocations(); n > 0 {
				log.Debug().Int("pruned", n).Msg("revocation list pruned")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
