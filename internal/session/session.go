// Package session persists the signed-in identity between CLI runs.
//
// The session file is the source of truth for who is signed in. The
// backend verifies token signatures; this client only reads claims out
// of the token to learn the identity and expiry, so tokens are parsed
// unverified. Cached data is keyed to the identity: whenever it changes,
// callers must clear the snapshot cache before fetching as the new user.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gopkg.in/yaml.v3"
)

// ErrNoSession is returned when no one is signed in.
var ErrNoSession = errors.New("not signed in")

// IdentityError means the signed-in identity is unusable: the token
// expired or the identity changed underneath a running process. The
// holder must clear cached snapshots and re-authenticate.
type IdentityError struct {
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity invalid: %s", e.Reason)
}

// IsIdentity reports whether err is an IdentityError.
func IsIdentity(err error) bool {
	var ie *IdentityError
	return errors.As(err, &ie)
}

// Session is the persisted sign-in state.
type Session struct {
	AuthUserID string    `yaml:"authUserId"`
	Email      string    `yaml:"email"`
	EmployeeID string    `yaml:"employeeId"`
	CompanyID  string    `yaml:"companyId"`
	Token      string    `yaml:"token"`
	ExpiresAt  time.Time `yaml:"expiresAt,omitempty"`
	SavedAt    time.Time `yaml:"savedAt"`
}

// Identity returns the stable key cached data is scoped to. The auth
// user id survives email changes; email is the fallback for backends
// that mint tokens without a subject.
func (s *Session) Identity() string {
	if s.AuthUserID != "" {
		return s.AuthUserID
	}
	return s.Email
}

// Expired reports whether the token has an expiry and it has passed.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// tokenClaims is what the backend puts in its tokens.
type tokenClaims struct {
	Email      string `json:"email"`
	CompanyID  string `json:"company_id"`
	EmployeeID string `json:"employee_id"`
	jwt.RegisteredClaims
}

// FromToken builds a Session from a backend token. The signature is NOT
// verified here; only the backend can do that, and it does so on every
// request.
func FromToken(token string) (Session, error) {
	var claims tokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Session{}, fmt.Errorf("failed to parse token: %w", err)
	}

	s := Session{
		AuthUserID: claims.Subject,
		Email:      claims.Email,
		EmployeeID: claims.EmployeeID,
		CompanyID:  claims.CompanyID,
		Token:      token,
		SavedAt:    time.Now().UTC(),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	if s.Identity() == "" {
		return Session{}, &IdentityError{Reason: "token carries no subject or email"}
	}
	return s, nil
}

// Store reads and writes the session file.
type Store struct {
	path string
}

// NewStore returns a store for the session file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file location.
func (st *Store) Path() string {
	return st.path
}

// Load reads the current session. Returns ErrNoSession if no one is
// signed in, or an IdentityError if the stored token has expired.
func (st *Store) Load() (*Session, error) {
	raw, err := os.ReadFile(st.path)
	if os.IsNotExist(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if s.Identity() == "" {
		return nil, ErrNoSession
	}
	if s.Expired(time.Now()) {
		return nil, &IdentityError{Reason: "token expired, sign in again"}
	}
	return &s, nil
}

// Save writes the session file, readable by the owner only.
func (st *Store) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(st.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// Clear signs out by removing the session file. Clearing an absent file
// is not an error.
func (st *Store) Clear() error {
	err := os.Remove(st.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}
