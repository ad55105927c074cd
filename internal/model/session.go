package model

// Session is what a session identifier resolves to in the key-value store.
// It is deliberately independent of the OAuth credential: it may outlive it
// or expire before it.
type Session struct {
	UserID     int64  `json:"userId"`
	ExternalID string `json:"externalId"`
	CreatedAt  int64  `json:"createdAt"` // unix milliseconds
}
