package models

import (
	"encoding/json"
	"slices"
	"time"
)

// Conversation is the persistent transcript shared by one or more agents.
// Messages are ordered by append time.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsGroup is derived from the participant count and never stored independently.
func (c *Conversation) IsGroup() bool {
	return len(c.ParticipantIDs) > 1
}

// Append adds messages at the end of the transcript.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
}

// RemoveMessage deletes the message with the given ID, keeping the order of
// the rest. It reports whether a message was removed.
func (c *Conversation) RemoveMessage(id string) bool {
	if id == "" {
		return false
	}
	for i, m := range c.Messages {
		if m.ID == id {
			c.Messages = slices.Delete(c.Messages, i, i+1)
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Clone returns a copy whose slices can be mutated independently.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	out.Messages = slices.Clone(c.Messages)
	return &out
}

type conversationJSON struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	ParticipantIDs []string  `json:"participant_ids"`
	IsGroup        bool      `json:"is_group"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MarshalJSON emits the derived is_group flag for readers of the stored document.
func (c Conversation) MarshalJSON() ([]byte, error) {
	return json.Marshal(conversationJSON{
		ID:             c.ID,
		Title:          c.Title,
		ParticipantIDs: c.ParticipantIDs,
		IsGroup:        c.IsGroup(),
		Messages:       c.Messages,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	})
}

// UnmarshalJSON ignores any stored is_group value.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw conversationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Conversation{
		ID:             raw.ID,
		Title:          raw.Title,
		ParticipantIDs: raw.ParticipantIDs,
		Messages:       raw.Messages,
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      raw.UpdatedAt,
	}
	return nil
}
