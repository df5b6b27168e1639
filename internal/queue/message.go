package queue

import "encoding/json"

// EventMealSaved is published after a meal passes the persistence gate.
const EventMealSaved = "meal.saved"

// MessageVersion is bumped on incompatible payload changes.
const MessageVersion = 1

// Message is the payload sent to downstream consumers.
type Message struct {
	Type          string `json:"type"`
	MealID        string `json:"mealId"`
	UserID        string `json:"userId"`
	RequestID     string `json:"requestId,omitempty"`
	Source        string `json:"source"`
	LowConfidence bool   `json:"lowConfidence"`
	SavedAt       string `json:"savedAt"`
	Version       int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
