package main

import (
	"errors"
	"fmt"

	"github.com/jrsteele09/scholarhub-auth/authclient"
	"github.com/jrsteele09/scholarhub-auth/guard"
	"github.com/spf13/cobra"
)

// routeAnnotation maps a command onto a path in the access table.
const routeAnnotation = "route"

const (
	routeAccount = "/account"
	routeAdmin   = "/admin"
)

var (
	errNotLoggedIn   = errors.New("not logged in, run `scholarctl login` first")
	errNotAuthorized = errors.New("your account is not allowed to run this command")
)

var guards = guard.New()

var accessTable = guard.NewTable(
	guard.Route{Path: routeAccount, Guards: []guard.Guard{guards.Authenticated()}},
	guard.Route{Path: routeAdmin, Guards: []guard.Guard{guards.Authenticated(), guards.Admin()}},
)

func withRoute(cmd *cobra.Command, route string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[routeAnnotation] = route
	return cmd
}

// gate resolves the command's route. An expired session with a refresh token is refreshed once
// before the decision is final.
func gate(cmd *cobra.Command, svc *authclient.Service) error {
	route, ok := cmd.Annotations[routeAnnotation]
	if !ok {
		return nil
	}

	decision := accessTable.Resolve(svc, route)
	if !decision.Allowed && decision.Redirect == guards.LoginPath && svc.RefreshTokenValue() != "" {
		if _, err := svc.RefreshToken(cmd.Context()); err == nil {
			decision = accessTable.Resolve(svc, route)
		}
	}
	return decisionError(decision)
}

func decisionError(d guard.Decision) error {
	switch {
	case d.Allowed:
		return nil
	case d.Redirect == guards.LoginPath:
		return errNotLoggedIn
	case d.Redirect == guards.UnauthorizedPath:
		return errNotAuthorized
	default:
		return fmt.Errorf("access denied, redirect to %s", d.Redirect)
	}
}
