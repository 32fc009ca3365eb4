package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Query parameter names understood by every service.
const (
	SessionParam   = "ghostId"
	APIKeyParam    = "shadowKey"
	SignatureParam = "shadowSig"
)

// signatureTimeLayout is the yyyyMMddHHmmss form used in the signed input.
const signatureTimeLayout = "20060102150405"

// Credential turns one form of user or machine credentials into the
// connect-time query of a target URL.
type Credential interface {
	// Authenticate returns a copy of target carrying the credential.
	// now is the signing time for credentials that sign the request.
	Authenticate(target *url.URL, now time.Time) (*url.URL, error)
}

// Session resumes a prior session by its identity.
type Session struct {
	ID uuid.UUID
}

// ParseSession parses a session identity as handed out in the handshake.
func ParseSession(id string) (Session, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Session{}, fmt.Errorf("parsing session id: %w", err)
	}
	return Session{ID: parsed}, nil
}

func (s Session) Authenticate(target *url.URL, _ time.Time) (*url.URL, error) {
	if s.ID == uuid.Nil {
		return nil, errors.New("session id is empty")
	}
	return withParams(target, SessionParam, s.ID.String()), nil
}

// Password logs in a user by e-mail address and password.
type Password struct {
	Username string
	Password string
}

func (p Password) Authenticate(target *url.URL, _ time.Time) (*url.URL, error) {
	addr, err := mail.ParseAddress(p.Username)
	if err != nil {
		return nil, fmt.Errorf("username must be an e-mail address: %w", err)
	}
	if p.Password == "" {
		return nil, errors.New("password is empty")
	}
	return withParams(target, "username", addr.Address, "password", p.Password), nil
}

// APIKey authenticates a machine with a key and its base64 encoded secret.
type APIKey struct {
	Key    string
	Secret string
}

func (k APIKey) Authenticate(target *url.URL, now time.Time) (*url.URL, error) {
	if k.Key == "" {
		return nil, errors.New("api key is empty")
	}
	sig, err := Signature(k.Key, k.Secret, now, "GET", target, 0)
	if err != nil {
		return nil, err
	}
	return withParams(target, APIKeyParam, k.Key, SignatureParam, sig), nil
}

// withParams appends key/value pairs to the target's query, keeping the
// existing query text as written.
func withParams(target *url.URL, kv ...string) *url.URL {
	u := *target
	var b strings.Builder
	b.WriteString(strings.Trim(u.RawQuery, "&"))
	for i := 0; i+1 < len(kv); i += 2 {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv[i]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[i+1]))
	}
	u.RawQuery = b.String()
	u.ForceQuery = false
	return &u
}

// SignInput returns base64(HMAC-SHA256(secret, input)).
func SignInput(secret []byte, input string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(input))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignedInput builds the canonical string that is signed for a request.
func SignedInput(apiKey string, date time.Time, method string, target *url.URL, length int64) string {
	return strings.Join([]string{
		apiKey,
		date.UTC().Format(signatureTimeLayout),
		strings.ToUpper(method),
		SanitizedURI(target),
		strconv.FormatInt(length, 10),
	}, "\n")
}

// Signature signs a request with the base64 encoded secret.
func Signature(apiKey, secretBase64 string, date time.Time, method string, target *url.URL, length int64) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(secretBase64)
	if err != nil {
		return "", fmt.Errorf("decoding api secret: %w", err)
	}
	return SignInput(secret, SignedInput(apiKey, date, method, target, length)), nil
}

// AuthorizationHeader returns the Authorization header value used by the
// RESTful service: "HMAC256 base64(key:signature)".
func AuthorizationHeader(apiKey, secretBase64 string, date time.Time, method string, target *url.URL, length int64) (string, error) {
	sig, err := Signature(apiKey, secretBase64, date, method, target, length)
	if err != nil {
		return "", err
	}
	return "HMAC256 " + base64.StdEncoding.EncodeToString([]byte(apiKey+":"+sig)), nil
}

// SanitizedURI returns the absolute URI with the session and signing
// parameters removed from its query. Other parameters keep their order.
func SanitizedURI(target *url.URL) string {
	u := *target
	var kept []string
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" ||
			strings.HasPrefix(part, SessionParam+"=") ||
			strings.HasPrefix(part, APIKeyParam+"=") ||
			strings.HasPrefix(part, SignatureParam+"=") {
			continue
		}
		kept = append(kept, part)
	}
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// ---------------------------------------------------------------------------
// Session persistence
// ---------------------------------------------------------------------------

// SaveSession writes the session identity to dataDir/session with
// permissions 0600 so later runs can resume it.
func SaveSession(dataDir string, id string) error {
	path := sessionPath(dataDir)
	if err := os.WriteFile(path, []byte(strings.TrimSpace(id)), 0600); err != nil {
		return fmt.Errorf("writing session to %s: %w", path, err)
	}
	return nil
}

// LoadSession returns the saved session, using this priority:
//  1. TRAKIT_SESSION environment variable
//  2. The session file on disk
//
// ok is false when neither holds a valid session id.
func LoadSession(dataDir string) (sess Session, ok bool) {
	if env := strings.TrimSpace(os.Getenv("TRAKIT_SESSION")); env != "" {
		if s, err := ParseSession(env); err == nil {
			return s, true
		}
	}
	data, err := os.ReadFile(sessionPath(dataDir))
	if err != nil {
		return Session{}, false
	}
	s, err := ParseSession(string(data))
	if err != nil {
		return Session{}, false
	}
	return s, true
}

// ClearSession removes the saved session file, if any.
func ClearSession(dataDir string) error {
	err := os.Remove(sessionPath(dataDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func sessionPath(dataDir string) string {
	return filepath.Join(dataDir, "session")
}
