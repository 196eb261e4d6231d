package chat

import "time"

// Session is the externally visible snapshot of a live connection.
type Session struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Mode      string    `json:"mode"`
	Recording bool      `json:"recording"`
	CreatedAt time.Time `json:"createdAt"`
}
