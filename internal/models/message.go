package models

import "time"

// Message is a single normalized chat message, independent of which export
// format it was parsed from.
type Message struct {
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}
