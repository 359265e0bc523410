package authclient_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/scholarhub-auth/authclient"
	"github.com/stretchr/testify/require"
)

func TestTransport_RefreshThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, store := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	a1, r1 := stored(store)

	// The server forgets A1, as if it expired.
	f.mu.Lock()
	f.validAccess = "revoked"
	f.mu.Unlock()

	resp, body, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok:", body)
	require.Equal(t, int32(1), f.refreshCalls.Load())

	a2, r2 := stored(store)
	require.NotEqual(t, a1, a2)
	require.NotEqual(t, r1, r2)
	wantAccess, wantRefresh := f.current()
	require.Equal(t, wantAccess, a2)
	require.Equal(t, wantRefresh, r2)
}

func TestTransport_ReplaysBody(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	f.mu.Lock()
	f.validAccess = "revoked"
	f.mu.Unlock()

	// A reader without GetBody forces the transport to buffer.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL()+"/api/data", io.NopCloser(strings.NewReader("payload")))
	require.NoError(t, err)
	resp, err := svc.HTTPClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok:payload", string(b))
	require.Empty(t, req.Header.Get("Authorization"), "caller's request is not modified")
}

type closeTracker struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

func TestTransport_ClosesOriginalBody(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL()+"/api/data", strings.NewReader("payload"))
	require.NoError(t, err)
	require.NotNil(t, req.GetBody)
	body := &closeTracker{Reader: strings.NewReader("payload")}
	req.Body = body

	resp, err := svc.HTTPClient().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok:payload", string(b))
	require.True(t, body.closed.Load(), "the request body is closed once GetBody takes over")
}

func TestTransport_NoToken(t *testing.T) {
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)

	resp, _, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.refreshCalls.Load(), "a request sent without a token never refreshes")
}

func TestTransport_RefreshFailure(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, store := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	f.mu.Lock()
	f.validAccess = "revoked"
	f.refreshCode = http.StatusUnauthorized
	f.mu.Unlock()

	resp, _, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "the original failure is surfaced")
	require.Equal(t, int32(1), f.refreshCalls.Load())
	access, refresh := stored(store)
	require.Empty(t, access)
	require.Empty(t, refresh)
	require.False(t, svc.IsLoggedIn())
}

// startBlockedRefresh logs in, invalidates the access token and holds the next refresh open.
func startBlockedRefresh(t *testing.T, svc *authclient.Service, f *fakeIdentity) <-chan *http.Response {
	t.Helper()
	_, err := svc.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	f.mu.Lock()
	f.validAccess = "revoked"
	f.mu.Unlock()
	f.refreshStarted = make(chan struct{}, 1)
	f.releaseRefresh = make(chan struct{})

	first := make(chan *http.Response, 1)
	go func() {
		resp, _, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
		if err != nil {
			first <- nil
			return
		}
		first <- resp
	}()
	<-f.refreshStarted
	return first
}

func TestTransport_FailFast(t *testing.T) {
	f := newFakeIdentity(t)
	svc, _ := newService(t, f, authclient.WithRefreshPolicy(authclient.FailFast))
	first := startBlockedRefresh(t, svc, f)

	_, _, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
	require.ErrorIs(t, err, authclient.ErrRefreshInProgress)

	close(f.releaseRefresh)
	resp := <-first
	require.NotNil(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestTransport_WaitForRefresh(t *testing.T) {
	f := newFakeIdentity(t)
	svc, _ := newService(t, f, authclient.WithRefreshPolicy(authclient.WaitForRefresh))
	first := startBlockedRefresh(t, svc, f)

	second := make(chan *http.Response, 1)
	go func() {
		resp, _, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
		if err != nil {
			second <- nil
			return
		}
		second <- resp
	}()
	require.Eventually(t, func() bool { return f.unauthorizedData.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	close(f.releaseRefresh)
	for _, ch := range []<-chan *http.Response{first, second} {
		resp := <-ch
		require.NotNil(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, int32(1), f.refreshCalls.Load())
}

func TestTransport_StaleRefreshKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, store := newService(t, f)
	first := startBlockedRefresh(t, svc, f)

	require.NoError(t, svc.Logout(ctx))
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	wantAccess, wantRefresh := f.current()
	close(f.releaseRefresh)

	resp := <-first
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	access, refresh := stored(store)
	require.Equal(t, wantAccess, access)
	require.Equal(t, wantRefresh, refresh)
	require.True(t, svc.IsLoggedIn())

	resp, body, err := get(t, svc.HTTPClient(), f.URL()+"/api/data")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok:", body)
}
