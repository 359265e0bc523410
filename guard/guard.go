// Package guard decides whether a view may be entered given the current session.
//
// Guards are pure functions of the session at the moment they run. They never clear storage or
// refresh tokens; recovering an expired session is the transport's job on the next request.
package guard

import (
	"slices"

	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/users"
)

const (
	DefaultLoginPath        = "/login"
	DefaultUnauthorizedPath = "/unauthorized"
)

// Session is the read side of a client session. *authclient.Service implements it.
type Session interface {
	AccessToken() string
	CurrentUser() *token.Claims
	IsExpired(raw string) bool
}

// Decision is either Allowed or a redirect target.
type Decision struct {
	Allowed  bool
	Redirect string
}

var Proceed = Decision{Allowed: true}

func redirect(to string) Decision {
	return Decision{Redirect: to}
}

// Guard is a single navigation check.
type Guard func(s Session) Decision

// Guards builds guards that share redirect targets.
type Guards struct {
	LoginPath        string
	UnauthorizedPath string
}

type Option func(*Guards)

func WithLoginPath(path string) Option {
	return func(g *Guards) {
		g.LoginPath = path
	}
}

func WithUnauthorizedPath(path string) Option {
	return func(g *Guards) {
		g.UnauthorizedPath = path
	}
}

func New(options ...Option) Guards {
	g := Guards{
		LoginPath:        DefaultLoginPath,
		UnauthorizedPath: DefaultUnauthorizedPath,
	}
	for _, opt := range options {
		opt(&g)
	}
	return g
}

// Authenticated proceeds when an access token is stored and not expired.
// An expired token is treated like a missing one.
func (g Guards) Authenticated() Guard {
	return func(s Session) Decision {
		access := s.AccessToken()
		if access == "" || s.IsExpired(access) {
			return redirect(g.LoginPath)
		}
		return Proceed
	}
}

// Admin sends users without a decodable token to login and any other role to not-authorized.
func (g Guards) Admin() Guard {
	return g.RoleIn(users.RoleAdmin)
}

// RoleIn proceeds when the decoded role is one of roles. An empty list admits any decodable user.
func (g Guards) RoleIn(roles ...users.RoleType) Guard {
	allowed := slices.Clone(roles)
	return func(s Session) Decision {
		user := s.CurrentUser()
		if user == nil {
			return redirect(g.LoginPath)
		}
		if len(allowed) == 0 || slices.Contains(allowed, user.Role) {
			return Proceed
		}
		return redirect(g.UnauthorizedPath)
	}
}

// All runs guards in order and returns the first redirect.
func All(guards ...Guard) Guard {
	return func(s Session) Decision {
		for _, g := range guards {
			if d := g(s); !d.Allowed {
				return d
			}
		}
		return Proceed
	}
}
