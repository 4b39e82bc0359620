package messenger

// WebhookEvent is the top-level structure received from Meta's webhook.
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents a single entry in the webhook payload.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging"`
}

// Messaging represents a single messaging event.
type Messaging struct {
	Sender    Party    `json:"sender"`
	Recipient Party    `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

// Party identifies a sender or recipient by page-scoped id.
type Party struct {
	ID string `json:"id"`
}

// Message contains the message content.
type Message struct {
	MID    string `json:"mid,omitempty"`
	Text   string `json:"text,omitempty"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// SendRequest is the payload sent to the Send API.
type SendRequest struct {
	Recipient     Party       `json:"recipient"`
	MessagingType string      `json:"messaging_type,omitempty"`
	Tag           string      `json:"tag,omitempty"`
	Message       SendMessage `json:"message"`
}

// SendMessage is the message content for outbound messages.
type SendMessage struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a media attachment.
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL        string `json:"url,omitempty"`
	IsReusable bool   `json:"is_reusable,omitempty"`
}

// SendResponse is the response from the Send API.
type SendResponse struct {
	RecipientID string    `json:"recipient_id"`
	MessageID   string    `json:"message_id"`
	Error       *APIError `json:"error,omitempty"`
}

// APIError represents an error returned by the Graph API.
type APIError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

// Profile is the subset of user profile fields the page may read.
type Profile struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Error     *APIError `json:"error,omitempty"`
}

// FullName joins first and last name, trimming the gap when one is missing.
func (p Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}
