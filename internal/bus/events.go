package bus

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventFact    EventKind = "fact"
	EventMention EventKind = "mention"
)

// OutboundMessage is a side effect produced by the engine and applied by a
// dispatcher. Fact fields are set for EventFact, StorylineID for EventMention.
type OutboundMessage struct {
	ID          string
	Kind        EventKind
	StorylineID string
	Category    string
	Key         string
	Value       string
	Timestamp   time.Time
}

func NewFactMessage(category, key, value string) OutboundMessage {
	return OutboundMessage{
		ID:        uuid.NewString(),
		Kind:      EventFact,
		Category:  category,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	}
}

func NewMentionMessage(storylineID string) OutboundMessage {
	return OutboundMessage{
		ID:          uuid.NewString(),
		Kind:        EventMention,
		StorylineID: storylineID,
		Timestamp:   time.Now(),
	}
}

// DedupKey identifies messages that carry the same effect.
func (m *OutboundMessage) DedupKey() string {
	switch m.Kind {
	case EventFact:
		return string(m.Kind) + ":" + m.Category + ":" + m.Key
	case EventMention:
		return string(m.Kind) + ":" + m.StorylineID
	}
	return m.ID
}
