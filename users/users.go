package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is the marketplace role carried in the access token's "role" claim
type RoleType string

const (
	RoleStudent  RoleType = "student"  // Discovers and applies to scholarships
	RoleProvider RoleType = "provider" // Posts and manages scholarship listings
	RoleAdmin    RoleType = "admin"    // Moderates users and listings
)

// ParseRole returns the role for s, or false when s is not a known role.
func ParseRole(s string) (RoleType, bool) {
	switch r := RoleType(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStudent, RoleProvider, RoleAdmin:
		return r, true
	}
	return "", false
}

// SelfRegistrable reports whether a user may pick this role at signup. Admins are only seeded.
func (r RoleType) SelfRegistrable() bool {
	return r == RoleStudent || r == RoleProvider
}

type User struct {
	ID           string    `json:"id,omitempty"`         // Unique identifier for the user
	Email        string    `json:"email,omitempty"`      // User's email address, stored lower case
	PasswordHash string    `json:"-"`                    // Hashed version of the user's password - never serialize
	FirstName    string    `json:"firstName,omitempty"`  // First name of the user
	LastName     string    `json:"lastName,omitempty"`   // Last name of the user
	Role         RoleType  `json:"role,omitempty"`       // Marketplace role
	DateJoined   time.Time `json:"dateJoined,omitempty"` // Date and time when the user registered
	LastLogin    time.Time `json:"lastLogin,omitempty"`  // Last time the user logged in

	Verified bool `json:"verified,omitempty"` // Verified, has the user verified who they are
	Blocked  bool `json:"blocked,omitempty"`  // Blocked, has the user been blocked from logging in
}

// NormalizeEmail is the key users are stored and looked up by.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// FullName joins first and last name, skipping empty parts.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
