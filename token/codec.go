package token

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/scholarhub-auth/users"
)

// DefaultExpirySkew treats tokens as expired slightly before their literal exp.
const DefaultExpirySkew = 10 * time.Second

// Claims is the decoded payload of an access token.
// Decoding never verifies the signature: use it for routing decisions, not for access control.
type Claims struct {
	SubjectID string         `json:"sub"`
	Role      users.RoleType `json:"role"`
	Email     string         `json:"email,omitempty"`
	ExpiresAt int64          `json:"exp,omitempty"` // Epoch seconds, 0 when the token has no exp
	Raw       jwt.MapClaims  `json:"-"`             // Every claim the issuer embedded
}

// HasExpiry reports whether the token carried an exp claim.
func (c *Claims) HasExpiry() bool {
	return c != nil && c.ExpiresAt != 0
}

// Expiry returns exp as a time, the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if !c.HasExpiry() {
		return time.Time{}
	}
	return time.Unix(c.ExpiresAt, 0)
}

var segmentParser = jwt.NewParser()

// Decode reads the claims of a bearer token without verifying it. The header's alg is not consulted.
// It returns nil for anything that is not three base64url segments with JSON object header and payload.
func Decode(raw string) *Claims {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil
	}

	var header map[string]any
	if !decodeSegment(parts[0], &header) || header == nil {
		return nil
	}
	var mapClaims jwt.MapClaims
	if !decodeSegment(parts[1], &mapClaims) || mapClaims == nil {
		return nil
	}
	return claimsFromMap(mapClaims)
}

func decodeSegment(seg string, dst any) bool {
	b, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

func claimsFromMap(mapClaims jwt.MapClaims) *Claims {
	if mapClaims == nil {
		mapClaims = jwt.MapClaims{}
	}
	claims := &Claims{Raw: mapClaims}

	claims.SubjectID, _ = mapClaims.GetSubject()
	if claims.SubjectID == "" {
		// Older tokens carried the user id in a custom claim
		for _, key := range []string{"userId", "id"} {
			if id, ok := mapClaims[key].(string); ok && id != "" {
				claims.SubjectID = id
				break
			}
		}
	}

	role, _ := mapClaims["role"].(string)
	claims.Role = users.RoleType(role)
	claims.Email, _ = mapClaims["email"].(string)

	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Unix()
	}
	return claims
}

// Codec decodes tokens and answers expiry questions against an injectable clock.
type Codec struct {
	skew    time.Duration
	nowFunc func() time.Time
}

// CodecOption defines a function type to modify the Codec instance.
type CodecOption func(*Codec)

// WithExpirySkew sets how long before exp a token is already treated as expired.
func WithExpirySkew(skew time.Duration) CodecOption {
	return func(c *Codec) {
		c.skew = skew
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

func NewCodec(options ...CodecOption) *Codec {
	c := &Codec{
		skew:    DefaultExpirySkew,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	if c.skew < 0 {
		c.skew = 0
	}
	return c
}

func (c *Codec) Decode(raw string) *Claims {
	return Decode(raw)
}

// Skew returns the configured expiry skew.
func (c *Codec) Skew() time.Duration {
	return c.skew
}

// IsExpired reports true for an empty or undecodable token, a token without exp,
// or when now >= exp - skew.
func (c *Codec) IsExpired(raw string) bool {
	return c.IsExpiredWithSkew(raw, c.skew)
}

func (c *Codec) IsExpiredWithSkew(raw string, skew time.Duration) bool {
	claims := Decode(raw)
	if !claims.HasExpiry() {
		return true
	}
	return c.nowFunc().Unix() >= claims.ExpiresAt-int64(skew/time.Second)
}
