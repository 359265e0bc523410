package authclient_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "a@b.com"
	testPassword = "x"
)

func makeToken(t *testing.T, sub string, role users.RoleType, exp time.Time, n int) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": string(role),
		"exp":  exp.Unix(),
		"jti":  fmt.Sprintf("t-%d", n),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	return s
}

// fakeIdentity is an identity API whose behavior each test adjusts.
type fakeIdentity struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	issued       int
	role         users.RoleType
	validAccess  string
	validRefresh string
	flat         bool   // answer with the flat token shape
	refreshBody  string // overrides the refresh response when set
	refreshCode  int    // overrides the refresh status when set

	refreshStarted chan struct{} // receives once per refresh call when non-nil
	releaseRefresh chan struct{} // refresh blocks until closed when non-nil

	refreshCalls     atomic.Int32
	logoutCalls      atomic.Int32
	unauthorizedData atomic.Int32
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()
	f := &fakeIdentity{t: t, role: users.RoleStudent}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.login)
	mux.HandleFunc("POST /auth/signup", f.login)
	mux.HandleFunc("POST /auth/refresh-token", f.refresh)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"user": users.User{ID: "user-1", Email: testEmail, Role: f.role},
		}})
	})
	mux.HandleFunc("POST /auth/change-password", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password changed"})
	})
	mux.HandleFunc("POST /auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "If the account exists, a reset link has been sent"})
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			f.unauthorizedData.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = fmt.Fprintf(w, "ok:%s", body)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdentity) URL() string {
	return f.srv.URL
}

// issue mints a pair and makes it the only valid one. Callers hold mu.
func (f *fakeIdentity) issue() (string, string) {
	f.issued++
	f.validAccess = makeToken(f.t, "user-1", f.role, time.Now().Add(time.Hour), f.issued)
	f.validRefresh = fmt.Sprintf("R%d", f.issued)
	return f.validAccess, f.validRefresh
}

func (f *fakeIdentity) current() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validAccess, f.validRefresh
}

func (f *fakeIdentity) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validAccess != "" && r.Header.Get("Authorization") == "Bearer "+f.validAccess
}

func (f *fakeIdentity) writePair(w http.ResponseWriter, access, refresh string) {
	if f.flat {
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": access, "refreshToken": refresh})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    map[string]any{"accessToken": access, "refreshToken": refresh, "user": map[string]any{"id": "user-1"}},
	})
}

func (f *fakeIdentity) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Password != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid email or password"})
		return
	}
	f.mu.Lock()
	access, refresh := f.issue()
	f.mu.Unlock()
	f.writePair(w, access, refresh)
}

func (f *fakeIdentity) refresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	if f.refreshStarted != nil {
		f.refreshStarted <- struct{}{}
	}
	if f.releaseRefresh != nil {
		<-f.releaseRefresh
	}

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.refreshCode != 0:
		writeJSON(w, f.refreshCode, map[string]any{"success": false, "message": "refresh rejected"})
	case f.refreshBody != "":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, f.refreshBody)
	case req.RefreshToken == "" || req.RefreshToken != f.validRefresh:
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid refresh token"})
	default:
		access, refresh := f.issue()
		f.writePair(w, access, refresh)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string, error) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, strings.TrimSpace(string(b)), nil
}
