package chat

// Wire models for the /api/chat endpoints.

type sendRequest struct {
	Body           string              `json:"body"`
	ClientToken    string              `json:"client_token,omitempty"`
	ReplyToID      *int64              `json:"reply_to_id,omitempty"`
	MentionUserIDs []int64             `json:"mention_user_ids,omitempty"`
	MentionNames   []string            `json:"mention_names,omitempty"`
	Attachments    []attachmentRequest `json:"attachments,omitempty"`
}

type attachmentRequest struct {
	URL         string `json:"url"`
	DisplayName string `json:"display_name"`
	MIME        string `json:"mime,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

type sendResponse struct {
	EnrichedMessage
	ClientToken string `json:"client_token"`
}

type editRequest struct {
	MessageID int64  `json:"message_id"`
	Body      string `json:"body"`
}

type deleteRequest struct {
	MessageID int64 `json:"message_id"`
}

type reactRequest struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type reactResponse struct {
	MessageID int64          `json:"message_id"`
	Changed   bool           `json:"changed"`
	Counts    map[string]int `json:"counts"`
}

type markReadRequest struct {
	IDs    []int64 `json:"ids,omitempty"`
	UptoID int64   `json:"upto_id,omitempty"`
}

type markReadResponse struct {
	UnreadCount int `json:"unread_count"`
}

type typingRequest struct {
	Stop bool `json:"stop,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
