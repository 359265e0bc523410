package server

import (
	"github.com/jrsteele09/scholarhub-auth/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// InitialiseSystem creates the configured admin account on first start.
// Without ADMIN_PASSWORD no account is created.
func (s *Server) InitialiseSystem(cfg config.BootstrapConfig) error {
	email := cfg.GetAdminEmail()
	if cfg.GetAdminPassword() == "" {
		log.Warn().Str("email", email).Msg("Bootstrap: ADMIN_PASSWORD not set, skipping admin account")
		return nil
	}

	created, err := s.auth.BootstrapAdmin(email, cfg.GetAdminPassword())
	if err != nil {
		return errors.Wrap(err, "[Server.InitialiseSystem] BootstrapAdmin")
	}
	if created {
		log.Info().Str("email", email).Msg("Bootstrap: admin account created")
	} else {
		log.Debug().Str("email", email).Msg("Bootstrap: admin account already exists")
	}
	return nil
}
