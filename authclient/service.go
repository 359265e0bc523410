// Package authclient owns the client side of a ScholarHub session: it is the only code that writes the
// session store or calls the identity endpoints.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jrsteele09/scholarhub-auth/session"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	PathLogin          = "/auth/login"
	PathSignup         = "/auth/signup"
	PathRefresh        = "/auth/refresh-token"
	PathLogout         = "/auth/logout"
	PathMe             = "/auth/me"
	PathForgotPassword = "/auth/forgot-password"
	PathResetPassword  = "/auth/reset-password"
	PathChangePassword = "/auth/change-password"

	maxResponseBytes = 256 * 1024
)

// RefreshPolicy decides what a request does when it gets a 401 while another request is already refreshing.
type RefreshPolicy int

const (
	// FailFast rejects the request with ErrRefreshInProgress.
	FailFast RefreshPolicy = iota
	// WaitForRefresh waits for the in-flight refresh and replays the request with its result.
	WaitForRefresh
)

// ParseRefreshPolicy accepts "fail-fast" and "wait". Anything else is FailFast.
func ParseRefreshPolicy(s string) RefreshPolicy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wait", "wait-for-refresh", "queue":
		return WaitForRefresh
	}
	return FailFast
}

func (p RefreshPolicy) String() string {
	if p == WaitForRefresh {
		return "wait"
	}
	return "fail-fast"
}

// refreshCall is the single outstanding refresh. done is closed once pair and err are set.
type refreshCall struct {
	done chan struct{}
	pair TokenPair
	err  error
}

// Service is a single client session. Create one per client with New; there is no package level session.
type Service struct {
	baseURL    string
	store      session.Store
	codec      *token.Codec
	httpClient *http.Client // talks to the identity endpoints, no automatic refresh
	authClient *http.Client // HTTPClient(): bearer + refresh-on-401
	policy     RefreshPolicy
	logger     zerolog.Logger

	mu         sync.RWMutex // store access
	generation uint64       // bumped when a session ends or is replaced, guarded by mu

	notifyMu    sync.Mutex // keeps notifications in write order
	subsMu      sync.Mutex
	subscribers map[int]func(*token.Claims)
	nextSubID   int

	refreshMu sync.Mutex
	inflight  *refreshCall
}

type Option func(*Service)

// WithHTTPClient sets the client used for every request. Its Transport becomes the base of HTTPClient().
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.httpClient = client
	}
}

func WithCodec(codec *token.Codec) Option {
	return func(s *Service) {
		s.codec = codec
	}
}

func WithRefreshPolicy(policy RefreshPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a session bound to the identity API at baseURL and persisted in store.
func New(baseURL string, store session.Store, options ...Option) *Service {
	s := &Service{
		baseURL:     strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		store:       store,
		policy:      FailFast,
		logger:      log.Logger,
		subscribers: make(map[int]func(*token.Claims)),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.store == nil {
		s.store = session.NewMemoryStore()
	}
	if s.codec == nil {
		s.codec = token.NewCodec()
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{}
	}
	s.authClient = &http.Client{
		Transport:     &Transport{Base: s.httpClient.Transport, Service: s, Policy: s.policy},
		Timeout:       s.httpClient.Timeout,
		Jar:           s.httpClient.Jar,
		CheckRedirect: s.httpClient.CheckRedirect,
	}
	return s
}

// HTTPClient returns a client that attaches the bearer token and refreshes once on a 401.
func (s *Service) HTTPClient() *http.Client {
	return s.authClient
}

func (s *Service) BaseURL() string {
	return s.baseURL
}

func (s *Service) Policy() RefreshPolicy {
	return s.policy
}

func (s *Service) Codec() *token.Codec {
	return s.codec
}

// AccessToken returns the stored access token, "" when absent.
func (s *Service) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.store.Get(session.KeyAccessToken)
	return v
}

// RefreshTokenValue returns the stored refresh token, "" when absent.
func (s *Service) RefreshTokenValue() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _ := s.store.Get(session.KeyRefreshToken)
	return v
}

// CurrentUser decodes the stored access token on every call.
func (s *Service) CurrentUser() *token.Claims {
	return token.Decode(s.AccessToken())
}

func (s *Service) IsExpired(raw string) bool {
	return s.codec.IsExpired(raw)
}

// IsLoggedIn is true when an access token is stored and not expired.
func (s *Service) IsLoggedIn() bool {
	access := s.AccessToken()
	return access != "" && !s.codec.IsExpired(access)
}

// StoreTokens replaces the session with the given pair and notifies subscribers.
func (s *Service) StoreTokens(accessToken, refreshToken string) error {
	return s.writeTokens(accessToken, refreshToken, 0, false)
}

// writeTokens is the single mutation point for a token pair. With checkGen set the write is skipped
// when the session was cleared or replaced after generation gen was read. Without it the write starts a
// new session and any refresh in flight is discarded.
func (s *Service) writeTokens(accessToken, refreshToken string, gen uint64, checkGen bool) error {
	s.mu.Lock()
	if checkGen && s.generation != gen {
		s.mu.Unlock()
		return ErrSessionCleared
	}
	if !checkGen {
		s.generation++
	}
	err := s.store.SetAll(map[session.Key]string{
		session.KeyAccessToken:  accessToken,
		session.KeyRefreshToken: refreshToken,
	})
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to store tokens: %w", err)
	}
	s.publish(token.Decode(accessToken))
	return nil
}

// ClearTokens removes every session key and discards the result of any refresh already in flight.
func (s *Service) ClearTokens() error {
	s.mu.Lock()
	return s.clearLocked()
}

// clearIfGeneration clears the session only if it has not been cleared since gen was read.
func (s *Service) clearIfGeneration(gen uint64) (bool, error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false, nil
	}
	return true, s.clearLocked()
}

// clearIfAccessToken clears the session only while access is still the stored access token.
func (s *Service) clearIfAccessToken(access string) (bool, error) {
	s.mu.Lock()
	if current, _ := s.store.Get(session.KeyAccessToken); current != access {
		s.mu.Unlock()
		return false, nil
	}
	return true, s.clearLocked()
}

// clearLocked is entered with mu held and releases it.
func (s *Service) clearLocked() error {
	s.generation++
	err := s.store.ClearAll()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	s.publish(nil)
	return nil
}

// Subscribe registers fn for current user changes. fn is called at once with the current user,
// then after every StoreTokens and ClearTokens. fn must not write the session itself.
func (s *Service) Subscribe(fn func(user *token.Claims)) (unsubscribe func()) {
	s.mu.RLock()
	access, _ := s.store.Get(session.KeyAccessToken)
	s.notifyMu.Lock()
	s.mu.RUnlock()
	defer s.notifyMu.Unlock()

	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subsMu.Unlock()

	fn(token.Decode(access))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subscribers, id)
			s.subsMu.Unlock()
		})
	}
}

// publish must be called with notifyMu held.
func (s *Service) publish(user *token.Claims) {
	s.subsMu.Lock()
	fns := make([]func(*token.Claims), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(user)
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair. On failure the session is left untouched.
func (s *Service) Login(ctx context.Context, email, password string) (*token.Claims, error) {
	body, err := s.doJSON(ctx, s.httpClient, http.MethodPost, PathLogin, loginRequest{Email: email, Password: password}, "")
	if err != nil {
		return nil, err
	}
	return s.storePair(body)
}

// SignupRequest registers a student or provider account.
type SignupRequest struct {
	Email     string         `json:"email"`
	Password  string         `json:"password,omitempty"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Role      users.RoleType `json:"role"`
}

// Signup creates the account and logs it in.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*token.Claims, error) {
	body, err := s.doJSON(ctx, s.httpClient, http.MethodPost, PathSignup, req, "")
	if err != nil {
		return nil, err
	}
	user, err := s.storePair(body)
	if err != nil {
		return nil, err
	}
	if err := s.ClearPendingSignup(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear pending signup")
	}
	return user, nil
}

func (s *Service) storePair(body []byte) (*token.Claims, error) {
	pair, err := decodeTokenPair(body)
	if err != nil {
		return nil, err
	}
	if err := s.StoreTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return nil, err
	}
	return token.Decode(pair.AccessToken), nil
}

// RefreshToken exchanges the stored refresh token for a new pair. Callers that arrive while a refresh is
// in flight share its result. Any refresh failure clears the session.
func (s *Service) RefreshToken(ctx context.Context) (TokenPair, error) {
	return s.refresh(ctx, true)
}

// TryRefreshToken is RefreshToken that returns ErrRefreshInProgress instead of waiting.
func (s *Service) TryRefreshToken(ctx context.Context) (TokenPair, error) {
	return s.refresh(ctx, false)
}

// Refreshing reports whether a refresh call is outstanding.
func (s *Service) Refreshing() bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.inflight != nil
}

func (s *Service) refresh(ctx context.Context, wait bool) (TokenPair, error) {
	s.refreshMu.Lock()
	call := s.inflight
	if call != nil {
		s.refreshMu.Unlock()
		if !wait {
			return TokenPair{}, ErrRefreshInProgress
		}
		return call.wait(ctx)
	}

	s.mu.RLock()
	refreshToken, _ := s.store.Get(session.KeyRefreshToken)
	gen := s.generation
	s.mu.RUnlock()
	if refreshToken == "" {
		s.refreshMu.Unlock()
		return TokenPair{}, ErrNoRefreshToken
	}

	call = &refreshCall{done: make(chan struct{})}
	s.inflight = call
	s.refreshMu.Unlock()

	// The network call outlives a cancelled caller so waiters still get a result.
	go func(ctx context.Context) {
		call.pair, call.err = s.doRefresh(ctx, refreshToken, gen)
		s.refreshMu.Lock()
		s.inflight = nil
		s.refreshMu.Unlock()
		close(call.done)
	}(context.WithoutCancel(ctx))

	return call.wait(ctx)
}

func (c *refreshCall) wait(ctx context.Context) (TokenPair, error) {
	select {
	case <-c.done:
		return c.pair, c.err
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Service) doRefresh(ctx context.Context, refreshToken string, gen uint64) (TokenPair, error) {
	s.logger.Debug().Msg("refreshing access token")

	pair, err := func() (TokenPair, error) {
		body, err := s.doJSON(ctx, s.httpClient, http.MethodPost, PathRefresh, refreshRequest{RefreshToken: refreshToken}, "")
		if err != nil {
			return TokenPair{}, err
		}
		return decodeTokenPair(body)
	}()
	if err != nil {
		cleared, clearErr := s.clearIfGeneration(gen)
		if clearErr != nil {
			s.logger.Error().Err(clearErr).Msg("failed to clear session after refresh failure")
		}
		if !cleared && clearErr == nil {
			s.logger.Debug().Err(err).Msg("refresh for an ended session failed, keeping the current session")
			return TokenPair{}, ErrSessionCleared
		}
		s.logger.Warn().Err(err).Msg("token refresh failed, session cleared")
		return TokenPair{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	if err := s.writeTokens(pair.AccessToken, pair.RefreshToken, gen, true); err != nil {
		if errors.Is(err, ErrSessionCleared) {
			s.logger.Debug().Msg("session cleared during refresh, discarding new tokens")
		}
		return TokenPair{}, err
	}
	return pair, nil
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Logout tells the server on a best-effort basis, then always clears the session.
func (s *Service) Logout(ctx context.Context) error {
	s.mu.RLock()
	access, _ := s.store.Get(session.KeyAccessToken)
	refresh, _ := s.store.Get(session.KeyRefreshToken)
	s.mu.RUnlock()

	if access != "" || refresh != "" {
		if _, err := s.doJSON(ctx, s.httpClient, http.MethodPost, PathLogout, logoutRequest{RefreshToken: refresh}, access); err != nil {
			s.logger.Debug().Err(err).Msg("logout request failed, clearing session anyway")
		}
	}
	return s.ClearTokens()
}

// Me fetches the signed in user's profile.
func (s *Service) Me(ctx context.Context) (*users.User, error) {
	body, err := s.doJSON(ctx, s.authClient, http.MethodGet, PathMe, nil, "")
	if err != nil {
		return nil, err
	}
	var env struct {
		Data struct {
			User *users.User `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Data.User == nil {
		return nil, fmt.Errorf("%w: response missing user", ErrMalformedResponse)
	}
	return env.Data.User, nil
}

// ForgotPassword asks the server to issue a reset token for email. It returns the server's message.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	return s.postMessage(ctx, s.httpClient, PathForgotPassword, map[string]string{"email": email})
}

func (s *Service) ResetPassword(ctx context.Context, resetToken, password, confirmPassword string) (string, error) {
	return s.postMessage(ctx, s.httpClient, PathResetPassword, map[string]string{
		"token":           resetToken,
		"password":        password,
		"confirmPassword": confirmPassword,
	})
}

// ChangePassword requires a signed in session.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) (string, error) {
	return s.postMessage(ctx, s.authClient, PathChangePassword, map[string]string{
		"currentPassword": currentPassword,
		"newPassword":     newPassword,
	})
}

func (s *Service) postMessage(ctx context.Context, client *http.Client, path string, req any) (string, error) {
	body, err := s.doJSON(ctx, client, http.MethodPost, path, req, "")
	if err != nil {
		return "", err
	}
	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	return env.Message, nil
}

// doJSON returns the raw body of a 2xx response and an *APIError otherwise.
func (s *Service) doJSON(ctx context.Context, client *http.Client, method, path string, body any, bearer string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}
