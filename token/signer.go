package token

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs access tokens and hands jwt.Parse the key for a token it signed.
type Signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	VerificationKey(t *jwt.Token) (any, error)
	Method() jwt.SigningMethod
}

// HMACSigner signs with one HS256 secret and still accepts tokens signed with retired secrets,
// so TOKEN_SECRET can be rotated without logging every student out.
type HMACSigner struct {
	kid  string            // id of the signing secret, sent in the "kid" header
	keys map[string][]byte // kid -> secret, signing secret included
}

var _ Signer = (*HMACSigner)(nil)

func NewHMACSigner(secret string, retired ...string) *HMACSigner {
	s := &HMACSigner{
		kid:  keyID(secret),
		keys: make(map[string][]byte, len(retired)+1),
	}
	for _, r := range retired {
		if r != "" {
			s.keys[keyID(r)] = []byte(r)
		}
	}
	s.keys[s.kid] = []byte(secret)
	return s
}

// keyID names a secret without revealing it.
func keyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

func (s *HMACSigner) Sign(claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = s.kid
	signed, err := t.SignedString(s.keys[s.kid])
	if err != nil {
		return "", errors.Wrap(err, "[HMACSigner.Sign] SignedString")
	}
	return signed, nil
}

// VerificationKey picks the secret named by the token's kid. Tokens issued before kids existed
// are checked against the signing secret.
func (s *HMACSigner) VerificationKey(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("[HMACSigner.VerificationKey] unexpected alg %v", t.Header["alg"])
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return s.keys[s.kid], nil
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, errors.Errorf("[HMACSigner.VerificationKey] unknown kid %q", kid)
	}
	return key, nil
}

func (s *HMACSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}
