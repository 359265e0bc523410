package authclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Transport attaches the session's bearer token and recovers from one 401 per request by refreshing
// and replaying it.
type Transport struct {
	Base    http.RoundTripper // http.DefaultTransport when nil
	Service *Service
	Policy  RefreshPolicy
}

var _ http.RoundTripper = (*Transport)(nil)

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	access := t.Service.AccessToken()
	if access == "" {
		return t.base().RoundTrip(req)
	}

	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	first, err := withBearer(req, access, getBody)
	if err != nil {
		return nil, err
	}
	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	newAccess, err := t.recoverToken(req.Context(), access)
	if err != nil {
		if errors.Is(err, ErrRefreshInProgress) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			drain(resp)
			return nil, err
		}
		// The refresh failed: the session the request was sent with is over and the caller sees the
		// original 401. A session stored since then is left alone.
		if _, clearErr := t.Service.clearIfAccessToken(access); clearErr != nil {
			t.Service.logger.Error().Err(clearErr).Msg("failed to clear session after refresh failure")
		}
		return resp, nil
	}

	retry, err := withBearer(req, newAccess, getBody)
	if err != nil {
		return resp, nil
	}
	drain(resp)
	return t.base().RoundTrip(retry)
}

// recoverToken returns an access token to replay with. A token that changed since the request was sent
// is reused without a refresh.
func (t *Transport) recoverToken(ctx context.Context, sent string) (string, error) {
	if current := t.Service.AccessToken(); current != "" && current != sent {
		return current, nil
	}

	var (
		pair TokenPair
		err  error
	)
	if t.Policy == WaitForRefresh {
		pair, err = t.Service.RefreshToken(ctx)
	} else {
		pair, err = t.Service.TryRefreshToken(ctx)
	}
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// replayableBody returns a function producing a fresh copy of the request body, buffering it when the
// request cannot produce one itself.
func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		_ = req.Body.Close()
		return req.GetBody, nil
	}
	b, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}, nil
}

// withBearer clones req so the caller's request is never modified.
func withBearer(req *http.Request, access string, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, fmt.Errorf("failed to copy request body: %w", err)
		}
		clone.Body = body
		clone.GetBody = getBody
	}
	clone.Header.Set("Authorization", "Bearer "+access)
	return clone, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
}
