package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jrsteele09/scholarhub-auth/users"
)

const (
	PathAdminUsers     = "/admin/users"
	PathAdminBlockUser = "/admin/users/block"
)

// ListUsers pages through accounts. The session must belong to an admin.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]*users.User, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	body, err := s.doJSON(ctx, s.authClient, http.MethodGet, PathAdminUsers+"?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Users []*users.User `json:"users"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp.Data.Users, nil
}

// SetUserBlocked blocks or unblocks the account with email.
func (s *Service) SetUserBlocked(ctx context.Context, email string, blocked bool) (string, error) {
	return s.postMessage(ctx, s.authClient, PathAdminBlockUser, struct {
		Email   string `json:"email"`
		Blocked bool   `json:"blocked"`
	}{email, blocked})
}
