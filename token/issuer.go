package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/scholarhub-auth/internal/errors"
	"github.com/jrsteele09/scholarhub-auth/users"
	"github.com/pkg/errors"
)

// Issuer creates and verifies the access tokens handed to marketplace clients.
type Issuer struct {
	signer            Signer
	issuer            string
	accessTokenExpiry time.Duration
	revoked           RevocationList
	nowFunc           func() time.Time
}

type IssuerOption func(*Issuer)

func WithAccessTokenExpiry(expiry time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessTokenExpiry = expiry
	}
}

func WithIssuer(issuer string) IssuerOption {
	return func(i *Issuer) {
		i.issuer = issuer
	}
}

func WithIssuerNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func WithRevocationList(list RevocationList) IssuerOption {
	return func(i *Issuer) {
		i.revoked = list
	}
}

func NewIssuer(signer Signer, options ...IssuerOption) *Issuer {
	i := &Issuer{
		signer:  signer,
		revoked: NewMemoryRevocationList(),
	}
	for _, opt := range options {
		opt(i)
	}
	if i.accessTokenExpiry == 0 {
		i.accessTokenExpiry = 15 * time.Minute
	}
	if i.nowFunc == nil {
		i.nowFunc = time.Now
	}
	return i
}

// AccessTokenExpiry is the lifetime of newly issued access tokens.
func (i *Issuer) AccessTokenExpiry() time.Duration {
	return i.accessTokenExpiry
}

// CreateAccessToken signs an access token carrying the user's id, role and email.
func (i *Issuer) CreateAccessToken(user *users.User) (string, error) {
	if user == nil {
		return "", errors.New("[Issuer.CreateAccessToken] user is required")
	}
	now := i.nowFunc()
	claims := jwt.MapClaims{
		"iss":   i.issuer,
		"sub":   user.ID,
		"role":  string(user.Role), // read by client route guards
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(i.accessTokenExpiry).Unix(),
		"jti":   uuid.New().String(), // revocation handle
	}

	signed, err := i.signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Issuer.CreateAccessToken] Sign")
	}
	return signed, nil
}

// Verify checks the signature, expiry and revocation state of an access token.
func (i *Issuer) Verify(rawToken string) (*Claims, error) {
	parsed, err := jwt.Parse(rawToken, i.signer.VerificationKey,
		jwt.WithValidMethods([]string{i.signer.Method().Alg()}),
		jwt.WithTimeFunc(i.nowFunc),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrTokenExpired
		}
		return nil, errors.Wrap(apperrors.ErrInvalidToken, err.Error())
	}
	if !parsed.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "error extracting claims from token")
	}

	if jti, _ := mapClaims["jti"].(string); jti != "" && i.revoked.IsRevoked(jti, i.nowFunc()) {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "token revoked")
	}

	claims := claimsFromMap(mapClaims)
	if claims.SubjectID == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "token missing sub claim")
	}
	return claims, nil
}

// Revoke blocks a verified access token until it would have expired anyway.
func (i *Issuer) Revoke(rawToken string) error {
	claims, err := i.Verify(rawToken)
	if err != nil {
		return errors.Wrap(err, "[Issuer.Revoke] Verify")
	}
	jti, _ := claims.Raw["jti"].(string)
	if jti == "" {
		return errors.New("[Issuer.Revoke] token missing jti claim")
	}
	return i.revoked.Revoke(jti, claims.Expiry())
}

// PruneRevocations forgets revocations whose tokens have expired and returns how many were dropped.
func (i *Issuer) PruneRevocations() int {
	return i.revoked.Prune(i.nowFunc())
}
