package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
	"github.com/jrsteele09/scholarhub-auth/token"
	"github.com/jrsteele09/scholarhub-auth/token/refresh"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const resetTokenLength = 32

// ResetNotifier delivers a password reset token to the user, usually by email.
type ResetNotifier func(user *users.User, resetToken string)

// Repos holds all repository dependencies for the Service
type Repos struct {
	Users       users.UserRepo // Repository for user data
	ResetTokens ResetTokenRepo // Repository for pending password resets
}

// TokenResponse is returned by login, signup and refresh.
type TokenResponse struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"` // Access token lifetime in seconds
	User         *users.User `json:"user"`
}

// SignupParameters are the fields of a self-service registration.
type SignupParameters struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// Service implements the identity operations behind the /auth routes.
type Service struct {
	repos            Repos
	issuer           *token.Issuer
	refreshTokens    *refresh.Manager
	resetTokenExpiry time.Duration
	resetNotifier    ResetNotifier
	nowTime          func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

func WithResetTokenExpiry(expiry time.Duration) ServiceOption {
	return func(s *Service) {
		s.resetTokenExpiry = expiry
	}
}

// WithResetNotifier replaces the default notifier, which only logs that a reset was requested.
func WithResetNotifier(notifier ResetNotifier) ServiceOption {
	return func(s *Service) {
		s.resetNotifier = notifier
	}
}

func NewService(repos Repos, issuer *token.Issuer, refreshTokens *refresh.Manager, options ...ServiceOption) (*Service, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewService] Users repo is required")
	}
	if repos.ResetTokens == nil {
		return nil, errors.New("[NewService] ResetTokens repo is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewService] issuer is required")
	}
	if refreshTokens == nil {
		return nil, errors.New("[NewService] refresh token manager is required")
	}

	s := &Service{
		repos:            repos,
		issuer:           issuer,
		refreshTokens:    refreshTokens,
		resetTokenExpiry: time.Hour,
		nowTime:          time.Now,
		resetNotifier: func(user *users.User, _ string) {
			log.Info().Str("userId", user.ID).Msg("password reset requested, no notifier configured")
		},
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(email, password string) (*TokenResponse, error) {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil || user == nil {
		return nil, apperrors.ErrInvalidCredentials
	}
	if !users.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if user.Blocked {
		return nil, apperrors.ErrUserBlocked
	}

	user.LastLogin = s.nowTime()
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] Users.Upsert")
	}
	return s.issueTokens(user)
}

// Signup registers a student or provider and logs them in.
func (s *Service) Signup(params SignupParameters) (*TokenResponse, error) {
	email := users.NormalizeEmail(params.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errors.Wrap(apperrors.ErrInvalidRequest, "invalid email address")
	}
	role, ok := users.ParseRole(params.Role)
	if !ok || !role.SelfRegistrable() {
		return nil, apperrors.ErrInvalidRole
	}
	if err := users.ValidatePasswordStrength(params.Password); err != nil {
		return nil, errors.Wrap(apperrors.ErrWeakPassword, err.Error())
	}
	if existing, err := s.repos.Users.GetByEmail(email); err == nil && existing != nil {
		return nil, apperrors.ErrUserExists
	}

	hash, err := users.HashPassword(params.Password)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Signup] HashPassword")
	}
	now := s.nowTime()
	user := &users.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(params.FirstName),
		LastName:     strings.TrimSpace(params.LastName),
		Role:         role,
		DateJoined:   now,
		LastLogin:    now,
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, errors.Wrap(err, "[Service.Signup] Users.Upsert")
	}
	return s.issueTokens(user)
}

// Refresh rotates a refresh token and issues a new access token for its user.
func (s *Service) Refresh(refreshToken string) (*TokenResponse, error) {
	rotated, err := s.refreshTokens.Rotate(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByID(rotated.UserID)
	if err != nil {
		_ = s.refreshTokens.Delete(rotated.Token)
		return nil, apperrors.ErrInvalidRefreshToken
	}
	if user.Blocked {
		_ = s.refreshTokens.Delete(rotated.Token)
		return nil, apperrors.ErrUserBlocked
	}

	accessToken, err := s.issuer.CreateAccessToken(user)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Refresh] CreateAccessToken")
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: rotated.Token,
		ExpiresIn:    int64(s.issuer.AccessTokenExpiry() / time.Second),
		User:         user,
	}, nil
}

// Logout revokes the caller's refresh token and, when given, the access token itself.
// userID comes from a verified access token; without one the presented refresh token identifies the session.
func (s *Service) Logout(userID, refreshToken, accessToken string) error {
	if userID == "" && refreshToken != "" {
		if rt, err := s.refreshTokens.Validate(refreshToken); err == nil {
			userID = rt.UserID
		}
	}
	if userID != "" {
		if err := s.refreshTokens.DeleteForUser(userID); err != nil {
			return errors.Wrap(err, "[Service.Logout] DeleteForUser")
		}
	}
	if accessToken != "" {
		if err := s.issuer.Revoke(accessToken); err != nil {
			log.Debug().Err(err).Msg("access token not revoked on logout")
		}
	}
	return nil
}

// Me returns the user an access token was issued to.
func (s *Service) Me(userID string) (*users.User, error) {
	user, err := s.repos.Users.GetByID(userID)
	if err != nil {
		return nil, apperrors.ErrUserNotFound
	}
	if user.Blocked {
		return nil, apperrors.ErrUserBlocked
	}
	return user, nil
}

// VerifyAccessToken checks a bearer token presented to a protected route.
func (s *Service) VerifyAccessToken(rawToken string) (*token.Claims, error) {
	return s.issuer.Verify(rawToken)
}

// ForgotPassword issues a reset token when the email is known. Unknown emails are not an error
// so callers cannot tell which accounts exist.
func (s *Service) ForgotPassword(email string) error {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil || user == nil || user.Blocked {
		return nil
	}

	tokenBytes := make([]byte, resetTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return errors.Wrap(err, "[Service.ForgotPassword] rand.Read")
	}
	resetToken := hex.EncodeToString(tokenBytes)

	if err := s.repos.ResetTokens.Upsert(&ResetToken{
		TokenHash: hashResetToken(resetToken),
		UserID:    user.ID,
		ExpiresAt: s.nowTime().Add(s.resetTokenExpiry),
	}); err != nil {
		return errors.Wrap(err, "[Service.ForgotPassword] ResetTokens.Upsert")
	}
	s.resetNotifier(user, resetToken)
	return nil
}

// ResetPassword sets a new password using a reset token. All of the user's sessions are ended.
func (s *Service) ResetPassword(resetToken, password, confirmPassword string) error {
	if password != confirmPassword {
		return apperrors.ErrPasswordMismatch
	}
	if err := users.ValidatePasswordStrength(password); err != nil {
		return errors.Wrap(apperrors.ErrWeakPassword, err.Error())
	}

	hash := hashResetToken(resetToken)
	rt, err := s.repos.ResetTokens.Get(hash)
	if err != nil {
		return apperrors.ErrInvalidResetToken
	}
	if !s.nowTime().Before(rt.ExpiresAt) {
		_ = s.repos.ResetTokens.Delete(hash)
		return apperrors.ErrInvalidResetToken
	}

	user, err := s.repos.Users.GetByID(rt.UserID)
	if err != nil {
		return apperrors.ErrInvalidResetToken
	}
	if err := s.setPassword(user, password); err != nil {
		return errors.Wrap(err, "[Service.ResetPassword] setPassword")
	}
	if err := s.repos.ResetTokens.DeleteForUser(user.ID); err != nil {
		return errors.Wrap(err, "[Service.ResetPassword] ResetTokens.DeleteForUser")
	}
	return s.refreshTokens.DeleteForUser(user.ID)
}

// ChangePassword requires the current password. The caller stays logged in.
func (s *Service) ChangePassword(userID, currentPassword, newPassword string) error {
	user, err := s.repos.Users.GetByID(userID)
	if err != nil {
		return apperrors.ErrUserNotFound
	}
	if !users.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return apperrors.ErrInvalidCredentials
	}
	if err := users.ValidatePasswordStrength(newPassword); err != nil {
		return errors.Wrap(apperrors.ErrWeakPassword, err.Error())
	}
	return s.setPassword(user, newPassword)
}

// BootstrapAdmin creates the admin account if no user holds the email yet.
// It reports whether a user was created.
func (s *Service) BootstrapAdmin(email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	if existing, err := s.repos.Users.GetByEmail(email); err == nil && existing != nil {
		return false, nil
	}
	hash, err := users.HashPassword(password)
	if err != nil {
		return false, errors.Wrap(err, "[Service.BootstrapAdmin] HashPassword")
	}
	if err := s.repos.Users.Upsert(&users.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Admin",
		Role:         users.RoleAdmin,
		DateJoined:   s.nowTime(),
		Verified:     true,
	}); err != nil {
		return false, errors.Wrap(err, "[Service.BootstrapAdmin] Users.Upsert")
	}
	return true, nil
}

// PruneRevocations drops logout revocations for access tokens that have expired.
func (s *Service) PruneRevocations() int {
	return s.issuer.PruneRevocations()
}

func (s *Service) setPassword(user *users.User, password string) error {
	hash, err := users.HashPassword(password)
	if err != nil {
		return errors.Wrap(err, "HashPassword")
	}
	user.PasswordHash = hash
	return s.repos.Users.Upsert(user)
}

func (s *Service) issueTokens(user *users.User) (*TokenResponse, error) {
	accessToken, err := s.issuer.CreateAccessToken(user)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.issueTokens] CreateAccessToken")
	}
	rt, err := s.refreshTokens.Create(user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.issueTokens] refresh Create")
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: rt.Token,
		ExpiresIn:    int64(s.issuer.AccessTokenExpiry() / time.Second),
		User:         user,
	}, nil
}

func hashResetToken(resetToken string) string {
	hash := sha256.Sum256([]byte(resetToken))
	return base64.URLEncoding.EncodeToString(hash[:])
}

// ListUsers pages through all accounts for the admin view.
func (s *Service) ListUsers(offset, limit int) ([]*users.User, error) {
	if offset < 0 || limit <= 0 {
		return nil, errors.Wrap(apperrors.ErrInvalidRequest, "offset must be >= 0 and limit > 0")
	}
	list, err := s.repos.Users.List(offset, limit)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListUsers] Users.List")
	}
	return list, nil
}

// SetUserBlocked blocks or unblocks an account. Blocking also ends the user's refresh session.
func (s *Service) SetUserBlocked(email string, blocked bool) error {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil || user == nil {
		return apperrors.ErrUserNotFound
	}
	if err := s.repos.Users.SetBlocked(email, blocked); err != nil {
		return errors.Wrap(err, "[Service.SetUserBlocked] Users.SetBlocked")
	}
	if blocked {
		return s.refreshTokens.DeleteForUser(user.ID)
	}
	return nil
}
