package authclient

import (
	"cmp"
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/scholarhub-auth/users"
)

// TokenPair is the canonical result of a login, signup or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	User         *users.User // nil when the server did not include one
}

type tokenFields struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         *users.User `json:"user,omitempty"`
}

type responseKind int

const (
	kindUnknown responseKind = iota
	kindFlat                 // {accessToken, refreshToken, ...}
	kindNested               // {data: {accessToken, refreshToken, user}}
	kindMixed                // fields at both levels
)

// tokenResponse is one of the token response shapes the identity API has used.
type tokenResponse struct {
	kind   responseKind
	flat   tokenFields
	nested tokenFields
}

func (f tokenFields) empty() bool {
	return f.AccessToken == "" && f.RefreshToken == "" && f.User == nil
}

func parseTokenResponse(body []byte) (tokenResponse, error) {
	var top struct {
		tokenFields
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &top); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp := tokenResponse{flat: top.tokenFields}
	if len(top.Data) > 0 && string(top.Data) != "null" {
		if err := json.Unmarshal(top.Data, &resp.nested); err != nil {
			return tokenResponse{}, fmt.Errorf("%w: data: %v", ErrMalformedResponse, err)
		}
	}

	switch hasFlat, hasNested := !resp.flat.empty(), !resp.nested.empty(); {
	case hasFlat && hasNested:
		resp.kind = kindMixed
	case hasFlat:
		resp.kind = kindFlat
	case hasNested:
		resp.kind = kindNested
	}
	return resp, nil
}

// pair resolves each field from the top level first, then from data. Both tokens are required.
func (r tokenResponse) pair() (TokenPair, error) {
	if r.kind == kindUnknown {
		return TokenPair{}, fmt.Errorf("%w: no tokens in response", ErrMalformedResponse)
	}
	p := TokenPair{
		AccessToken:  cmp.Or(r.flat.AccessToken, r.nested.AccessToken),
		RefreshToken: cmp.Or(r.flat.RefreshToken, r.nested.RefreshToken),
		User:         r.flat.User,
	}
	if p.User == nil {
		p.User = r.nested.User
	}
	if p.AccessToken == "" || p.RefreshToken == "" {
		return TokenPair{}, fmt.Errorf("%w: response missing access or refresh token", ErrMalformedResponse)
	}
	return p, nil
}

func decodeTokenPair(body []byte) (TokenPair, error) {
	resp, err := parseTokenResponse(body)
	if err != nil {
		return TokenPair{}, err
	}
	return resp.pair()
}

// envelope is the {success, message, data} wrapper the identity API returns.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}
