package chat

import "time"

// Write-path limits.
const (
	// Max message body length (runes).
	maxBodyChars = 500

	// Max attachments per message.
	maxAttachments = 5

	// Client token format bounds (base64url-ish charset).
	minClientTokenLen = 8
	maxClientTokenLen = 64
)

// Read-path limits.
const (
	defaultFetchLimit = 50
	maxFetchLimit     = 200

	// Cap on edited-since / deleted-since delta results.
	deltaLimit = 50

	defaultAroundWindow = 25
)

// Guard windows. Short windows stop bursts; long windows cap sustained
// cadence without punishing normal conversation.
const (
	userShortWindow = 10 * time.Second
	userShortLimit  = 5
	userLongWindow  = 60 * time.Second
	userLongLimit   = 20

	ipShortWindow = 30 * time.Second
	ipShortLimit  = 10
	ipLongWindow  = 300 * time.Second
	ipLongLimit   = 60

	duplicateWindow = 30 * time.Second
)

// Notification limits.
const (
	defaultUnreadLimit = 20
	maxUnreadLimit     = 100
)

// Typing presence.
const (
	typingTTL = 6 * time.Second

	// In-process limiter for the typing endpoint.
	typingRateEvents = 30
	typingRateWindow = 10 * time.Second
)
