package authclient_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/scholarhub-auth/authclient"
	"github.com/jrsteele09/scholarhub-auth/session"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, f *fakeIdentity, options ...authclient.Option) (*authclient.Service, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	options = append([]authclient.Option{authclient.WithLogger(zerolog.Nop())}, options...)
	return authclient.New(f.URL(), store, options...), store
}

func stored(store session.Store) (string, string) {
	access, _ := store.Get(session.KeyAccessToken)
	refresh, _ := store.Get(session.KeyRefreshToken)
	return access, refresh
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("nested response", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)

		user, err := svc.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, users.RoleStudent, user.Role)
		require.True(t, svc.IsLoggedIn())
		require.Equal(t, users.RoleStudent, svc.CurrentUser().Role)

		access, refresh := f.current()
		gotAccess, gotRefresh := stored(store)
		require.Equal(t, access, gotAccess)
		require.Equal(t, refresh, gotRefresh)
	})

	t.Run("flat response", func(t *testing.T) {
		f := newFakeIdentity(t)
		f.flat = true
		f.role = users.RoleProvider
		svc, _ := newService(t, f)

		user, err := svc.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		require.Equal(t, users.RoleProvider, user.Role)
		require.True(t, svc.IsLoggedIn())
	})

	t.Run("failure leaves the session alone", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		require.NoError(t, svc.StoreTokens("old-access", "old-refresh"))

		_, err := svc.Login(ctx, testEmail, "wrong")
		var apiErr *authclient.APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, 401, apiErr.StatusCode)
		require.Equal(t, "Invalid email or password", apiErr.Message)
		require.True(t, authclient.IsUnauthorized(err))

		access, refresh := stored(store)
		require.Equal(t, "old-access", access)
		require.Equal(t, "old-refresh", refresh)
	})
}

func TestStoreTokens_RoundTrip(t *testing.T) {
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)
	a := makeToken(t, "user-9", users.RoleAdmin, time.Now().Add(time.Hour), 1)

	require.NoError(t, svc.StoreTokens(a, "r"))
	require.Equal(t, a, svc.AccessToken())
	require.Equal(t, "r", svc.RefreshTokenValue())
	require.Equal(t, token.Decode(a), svc.CurrentUser())

	t.Run("undecodable access token", func(t *testing.T) {
		require.NoError(t, svc.StoreTokens("garbage", "r2"))
		require.Nil(t, svc.CurrentUser())
		require.False(t, svc.IsLoggedIn())
	})

	t.Run("expired access token", func(t *testing.T) {
		expired := makeToken(t, "user-9", users.RoleAdmin, time.Now().Add(-100*time.Second), 2)
		require.NoError(t, svc.StoreTokens(expired, "r3"))
		require.NotNil(t, svc.CurrentUser())
		require.False(t, svc.IsLoggedIn())
	})
}

func TestRefreshToken(t *testing.T) {
	ctx := context.Background()

	t.Run("no refresh token makes no call", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, _ := newService(t, f)
		_, err := svc.RefreshToken(ctx)
		require.ErrorIs(t, err, authclient.ErrNoRefreshToken)
		require.Zero(t, f.refreshCalls.Load())
	})

	t.Run("rotates both tokens", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		_, err := svc.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)
		a1, r1 := stored(store)

		pair, err := svc.RefreshToken(ctx)
		require.NoError(t, err)
		a2, r2 := stored(store)
		require.NotEqual(t, a1, a2)
		require.NotEqual(t, r1, r2)
		require.Equal(t, pair.AccessToken, a2)
		require.Equal(t, pair.RefreshToken, r2)
	})

	t.Run("fields resolve per level", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		require.NoError(t, svc.StoreTokens("A1", "R1"))
		f.refreshBody = `{"accessToken":"A9","data":{"accessToken":"ignored","refreshToken":"R9"}}`

		pair, err := svc.RefreshToken(ctx)
		require.NoError(t, err)
		require.Equal(t, "A9", pair.AccessToken)
		require.Equal(t, "R9", pair.RefreshToken)
		access, refresh := stored(store)
		require.Equal(t, "A9", access)
		require.Equal(t, "R9", refresh)
	})

	failures := []struct {
		name  string
		setup func(f *fakeIdentity)
	}{
		{"server error", func(f *fakeIdentity) { f.refreshCode = 500 }},
		{"rejected", func(f *fakeIdentity) { f.refreshCode = 401 }},
		{"missing tokens", func(f *fakeIdentity) { f.refreshBody = `{"success":true,"data":{"accessToken":"only-access"}}` }},
		{"empty object", func(f *fakeIdentity) { f.refreshBody = `{}` }},
		{"not json", func(f *fakeIdentity) { f.refreshBody = `<html>` }},
	}
	for _, tt := range failures {
		t.Run("failure clears session: "+tt.name, func(t *testing.T) {
			f := newFakeIdentity(t)
			svc, store := newService(t, f)
			require.NoError(t, svc.StoreTokens("A1", "R1"))
			require.NoError(t, svc.SavePendingSignup(authclient.SignupRequest{Email: testEmail}))
			tt.setup(f)

			_, err := svc.RefreshToken(ctx)
			require.ErrorIs(t, err, authclient.ErrRefreshFailed)
			for _, k := range session.Keys {
				_, ok := store.Get(k)
				require.False(t, ok, k)
			}
		})
	}

	t.Run("transport failure clears session", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		require.NoError(t, svc.StoreTokens("A1", "R1"))
		f.srv.Close()

		_, err := svc.RefreshToken(ctx)
		require.ErrorIs(t, err, authclient.ErrRefreshFailed)
		access, refresh := stored(store)
		require.Empty(t, access)
		require.Empty(t, refresh)
	})
}

func TestRefreshToken_SingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	f.refreshStarted = make(chan struct{}, 1)
	f.releaseRefresh = make(chan struct{})

	type result struct {
		pair authclient.TokenPair
		err  error
	}
	first := make(chan result, 1)
	go func() {
		pair, err := svc.RefreshToken(ctx)
		first <- result{pair, err}
	}()
	<-f.refreshStarted
	require.True(t, svc.Refreshing())

	_, err = svc.TryRefreshToken(ctx)
	require.ErrorIs(t, err, authclient.ErrRefreshInProgress)

	second := make(chan result, 1)
	go func() {
		pair, err := svc.RefreshToken(ctx)
		second <- result{pair, err}
	}()

	t.Run("waiter honours its own context", func(t *testing.T) {
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := svc.RefreshToken(short)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	close(f.releaseRefresh)
	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	require.Equal(t, r1.pair.AccessToken, r2.pair.AccessToken)
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.False(t, svc.Refreshing())
}

func TestLogoutDuringRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, store := newService(t, f)
	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	f.refreshStarted = make(chan struct{}, 1)
	f.releaseRefresh = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := svc.RefreshToken(ctx)
		done <- err
	}()
	<-f.refreshStarted

	require.NoError(t, svc.Logout(ctx))
	close(f.releaseRefresh)

	require.ErrorIs(t, <-done, authclient.ErrSessionCleared)
	access, refresh := stored(store)
	require.Empty(t, access, "a refresh must not resurrect a logged out session")
	require.Empty(t, refresh)
	require.Nil(t, svc.CurrentUser())
}

func TestLoginDuringRefresh(t *testing.T) {
	ctx := context.Background()

	for _, logoutFirst := range []bool{true, false} {
		t.Run(fmt.Sprintf("logout first %v", logoutFirst), func(t *testing.T) {
			f := newFakeIdentity(t)
			svc, store := newService(t, f)
			_, err := svc.Login(ctx, testEmail, testPassword)
			require.NoError(t, err)

			f.refreshStarted = make(chan struct{}, 1)
			f.releaseRefresh = make(chan struct{})

			done := make(chan error, 1)
			go func() {
				_, err := svc.RefreshToken(ctx)
				done <- err
			}()
			<-f.refreshStarted

			// The server rotates the refresh token on login, so the refresh in flight is rejected.
			if logoutFirst {
				require.NoError(t, svc.Logout(ctx))
			}
			_, err = svc.Login(ctx, testEmail, testPassword)
			require.NoError(t, err)
			close(f.releaseRefresh)

			require.ErrorIs(t, <-done, authclient.ErrSessionCleared)
			wantAccess, wantRefresh := f.current()
			access, refresh := stored(store)
			require.Equal(t, wantAccess, access, "a stale refresh must not clear the new session")
			require.Equal(t, wantRefresh, refresh)
			require.True(t, svc.IsLoggedIn())
		})
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("calls the server and clears", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		_, err := svc.Login(ctx, testEmail, testPassword)
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx))
		require.Equal(t, int32(1), f.logoutCalls.Load())
		access, refresh := stored(store)
		require.Empty(t, access)
		require.Empty(t, refresh)
	})

	t.Run("network failure is swallowed", func(t *testing.T) {
		f := newFakeIdentity(t)
		svc, store := newService(t, f)
		require.NoError(t, svc.StoreTokens("A1", "R1"))
		f.srv.Close()

		require.NoError(t, svc.Logout(ctx))
		access, _ := stored(store)
		require.Empty(t, access)
	})
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)

	var (
		mu   sync.Mutex
		seen []*token.Claims
	)
	unsubscribe := svc.Subscribe(func(user *token.Claims) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, user)
	})

	_, err := svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, svc.ClearTokens())
	unsubscribe()
	unsubscribe()
	require.NoError(t, svc.StoreTokens("A", "R"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	require.Nil(t, seen[0], "current user delivered on subscribe")
	require.NotNil(t, seen[1])
	require.Equal(t, users.RoleStudent, seen[1].Role)
	require.Nil(t, seen[2])
}

// Concurrent writers leave exactly one writer's pair, never a mix.
func TestService_SingleWriter(t *testing.T) {
	f := newFakeIdentity(t)
	svc, store := newService(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				_ = svc.ClearTokens()
				return
			}
			_ = svc.StoreTokens(fmt.Sprintf("A%d", i), fmt.Sprintf("R%d", i))
		}(i)
	}
	wg.Wait()

	access, refresh := stored(store)
	if access == "" {
		require.Empty(t, refresh)
		return
	}
	require.Equal(t, "R"+access[1:], refresh)
}

func TestPendingSignup(t *testing.T) {
	f := newFakeIdentity(t)
	svc, store := newService(t, f)

	_, ok := svc.PendingSignup()
	require.False(t, ok)

	require.NoError(t, svc.SavePendingSignup(authclient.SignupRequest{
		Email: testEmail, Password: "Secret123", FirstName: "Ada", Role: users.RoleProvider,
	}))
	got, ok := svc.PendingSignup()
	require.True(t, ok)
	require.Equal(t, "Ada", got.FirstName)
	require.Empty(t, got.Password)

	raw, _ := store.Get(session.KeyPendingSignup)
	require.NotContains(t, raw, "Secret123")

	user, err := svc.Signup(context.Background(), authclient.SignupRequest{Email: testEmail, Password: testPassword, Role: users.RoleStudent})
	require.NoError(t, err)
	require.NotNil(t, user)
	_, ok = svc.PendingSignup()
	require.False(t, ok, "signup clears the pending form")
}

func TestAccountCalls(t *testing.T) {
	ctx := context.Background()
	f := newFakeIdentity(t)
	svc, _ := newService(t, f)

	_, err := svc.Me(ctx)
	require.True(t, authclient.IsUnauthorized(err))

	_, err = svc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	me, err := svc.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "user-1", me.ID)

	msg, err := svc.ChangePassword(ctx, testPassword, "Newpass123")
	require.NoError(t, err)
	require.Equal(t, "Password changed", msg)

	msg, err = svc.ForgotPassword(ctx, testEmail)
	require.NoError(t, err)
	require.Contains(t, msg, "reset link")
}

func TestParseRefreshPolicy(t *testing.T) {
	require.Equal(t, authclient.WaitForRefresh, authclient.ParseRefreshPolicy("wait"))
	require.Equal(t, authclient.FailFast, authclient.ParseRefreshPolicy("fail-fast"))
	require.Equal(t, authclient.FailFast, authclient.ParseRefreshPolicy("bogus"))
	require.Equal(t, "wait", authclient.WaitForRefresh.String())
	require.False(t, errors.Is(authclient.ErrRefreshInProgress, authclient.ErrRefreshFailed))
}
