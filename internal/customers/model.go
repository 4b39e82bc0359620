// Package customers is the directory of Messenger users known to the page.
package customers

import "time"

// Customer is one directory row.
type Customer struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	ChatbotOn  bool      `json:"chatbot_on"`
	FollowUpOn bool      `json:"follow_up_on"`
	CreatedAt  time.Time `json:"created_at"`
}
