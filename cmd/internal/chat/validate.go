package chat

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// validClientToken accepts 8..64 chars of [A-Za-z0-9_-]. UUIDs and
// ULIDs both pass; anything else is a bad_client_id.
func validClientToken(token string) bool {
	if len(token) < minClientTokenLen || len(token) > maxClientTokenLen {
		return false
	}
	for _, r := range token {
		ok := r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}

// validateBody trims and bounds a message body. The returned code is one
// of "", "empty", "too_long".
func validateBody(body string) (string, string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "empty"
	}
	if utf8.RuneCountInString(body) > maxBodyChars {
		return "", "too_long"
	}
	return body, ""
}

var attachmentKinds = map[string]string{
	".png": AttachmentImage, ".jpg": AttachmentImage, ".jpeg": AttachmentImage,
	".gif": AttachmentImage, ".webp": AttachmentImage, ".avif": AttachmentImage,
	".mp4": AttachmentVideo, ".webm": AttachmentVideo, ".mov": AttachmentVideo,
	".mp3": AttachmentAudio, ".ogg": AttachmentAudio, ".wav": AttachmentAudio,
	".m4a": AttachmentAudio, ".flac": AttachmentAudio,
}

// attachmentKind infers the kind from the URL's file extension,
// defaulting to the generic file kind.
func attachmentKind(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return AttachmentFile
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if k, ok := attachmentKinds[ext]; ok {
		return k
	}
	return AttachmentFile
}

// validateAttachments converts and bounds the submitted descriptors.
// Upload handling already validated the files themselves (external
// collaborator); this only guards the descriptor shape.
func validateAttachments(in []attachmentRequest) ([]Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > maxAttachments {
		return nil, fmt.Errorf("too many attachments: max %d", maxAttachments)
	}

	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		u, err := url.Parse(strings.TrimSpace(a.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid attachment url")
		}
		name := strings.TrimSpace(a.DisplayName)
		if name == "" {
			name = path.Base(u.Path)
		}
		out = append(out, Attachment{
			URL:         u.String(),
			DisplayName: name,
			MIME:        strings.TrimSpace(a.MIME),
			SizeBytes:   a.SizeBytes,
			Kind:        attachmentKind(u.String()),
		})
	}
	return out, nil
}
