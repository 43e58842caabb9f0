package app

import "errors"

// Minimum 32 bytes for an HMAC-SHA256 key. Measured in bytes, not runes,
// because the key is used as raw bytes.
const minSessionKeyBytes = 32

// ValidateSessionKeyConfig enforces the session key policy at startup.
//
// Fail-fast is intentional: silently running production traffic on an
// ephemeral signing key would invalidate every session on each deploy
// and hide the misconfiguration.
func ValidateSessionKeyConfig(cfg Config) error {
	if cfg.SessionKey != "" && len(cfg.SessionKey) < minSessionKeyBytes {
		return errors.New("security policy: TR_SESSION_KEY is too short (min 32 bytes)")
	}
	if cfg.RequireSessionKey && cfg.SessionKey == "" {
		return errors.New("security policy: TR_REQUIRE_SESSION_KEY=true but TR_SESSION_KEY is missing")
	}
	return nil
}
