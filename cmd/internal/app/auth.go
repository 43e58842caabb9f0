package app

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"traderoom/cmd/internal/chat"
)

// SessionCookie carries the signed session token for browser clients.
// API clients may send the same token as a bearer credential instead.
const SessionCookie = "tr_session"

const csrfHeader = "X-CSRF-Token"

// HMACAuthenticator verifies self-contained signed session tokens. The
// platform's identity service mints them; this server only checks the
// signature, so chat stays stateless with respect to accounts.
//
// Token layout: tr1.<user_id>.<base64url(name)>.<role>.<hex hmac>
// where the mac covers "user_id|name|role".
type HMACAuthenticator struct {
	key []byte
	log Logger
}

// NewAuthenticator builds the session verifier from config, enforcing
// the key policy first.
func NewAuthenticator(cfg Config, log Logger) (*HMACAuthenticator, error) {
	if err := ValidateSessionKeyConfig(cfg); err != nil {
		return nil, err
	}

	key := []byte(cfg.SessionKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral session key: %w", err)
		}
		log.Warn("auth.key.ephemeral", "note", "sessions will not survive restart")
	}

	return &HMACAuthenticator{key: key, log: log}, nil
}

// Identify resolves the caller from cookie or bearer token.
func (a *HMACAuthenticator) Identify(r *http.Request) (chat.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return chat.Identity{}, false
	}

	id, ok := a.parseToken(token)
	if !ok {
		a.log.Debug("auth.token.invalid")
		return chat.Identity{}, false
	}
	return id, true
}

// VerifyCSRF checks the anti-forgery header against the caller's session.
func (a *HMACAuthenticator) VerifyCSRF(r *http.Request, id chat.Identity) bool {
	got := strings.TrimSpace(r.Header.Get(csrfHeader))
	if got == "" {
		return false
	}
	want := a.CSRFToken(id)
	return hmac.Equal([]byte(got), []byte(want))
}

// MintSession signs a session token for id. Exposed for local tooling
// and tests; production tokens come from the identity service holding
// the same key.
func (a *HMACAuthenticator) MintSession(id chat.Identity) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(id.Name))
	mac := a.sign(sessionPayload(id))
	return fmt.Sprintf("tr1.%d.%s.%s.%s", id.UserID, name, id.Role, mac)
}

// CSRFToken derives the per-session anti-forgery token.
func (a *HMACAuthenticator) CSRFToken(id chat.Identity) string {
	return a.sign("csrf|" + strconv.FormatInt(id.UserID, 10))
}

func (a *HMACAuthenticator) parseToken(token string) (chat.Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 5 || parts[0] != "tr1" {
		return chat.Identity{}, false
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return chat.Identity{}, false
	}
	rawName, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(rawName) == 0 {
		return chat.Identity{}, false
	}

	id := chat.Identity{UserID: userID, Name: string(rawName), Role: parts[3]}
	if !validRole(id.Role) {
		return chat.Identity{}, false
	}
	if !hmac.Equal([]byte(parts[4]), []byte(a.sign(sessionPayload(id)))) {
		return chat.Identity{}, false
	}
	return id, true
}

func (a *HMACAuthenticator) sign(payload string) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func sessionPayload(id chat.Identity) string {
	return strconv.FormatInt(id.UserID, 10) + "|" + id.Name + "|" + id.Role
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func validRole(role string) bool {
	switch role {
	case chat.RoleMember, chat.RoleModerator, chat.RoleAdmin:
		return true
	}
	return false
}

// directoryFromConfig parses the TR_USERS seed list ("id:name,...") into
// the mention directory. Malformed entries are skipped. A trailing
// ":role" field is tolerated and ignored; roles live in session tokens.
func directoryFromConfig(cfg Config) chat.UserDirectory {
	var refs []chat.UserRef
	for _, entry := range strings.Split(cfg.Users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		if name == "" {
			continue
		}
		refs = append(refs, chat.UserRef{ID: id, Name: name})
	}
	return chat.NewStaticDirectory(refs...)
}
