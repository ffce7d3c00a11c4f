// Package realtime buffers pushed annotation changes until the consumer
// chooses to apply them.
package realtime

import (
	"encoding/json"
	"fmt"

	"marginalia/api/internal/store"
)

type MessageType string

const (
	MessageCreate MessageType = "create"
	MessageUpdate MessageType = "update"
	MessageDelete MessageType = "delete"
)

// Message is one notification from the push channel. Origin names the
// process that published it; anything else on the wire is ignored.
type Message struct {
	Type    MessageType        `json:"type"`
	Records []store.Annotation `json:"records"`
	Origin  string             `json:"origin,omitempty"`
}

// From reports whether msg was published by origin. Messages without an
// origin come from outside and never match.
func (m Message) From(origin string) bool {
	return origin != "" && m.Origin == origin
}

// Batch is the unit the queue merges: saved records and deleted ids.
type Batch struct {
	Updated []store.Annotation
	Deleted []string
}

func (b Batch) Empty() bool {
	return len(b.Updated) == 0 && len(b.Deleted) == 0
}

// DecodeMessage parses a pushed message and rejects unknown types.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	switch msg.Type {
	case MessageCreate, MessageUpdate, MessageDelete:
		return msg, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// BatchOf groups messages into a single batch. Records without a server id
// cannot be reconciled and are dropped.
func BatchOf(messages ...Message) Batch {
	var batch Batch
	for _, msg := range messages {
		for _, record := range msg.Records {
			if record.ID == "" {
				continue
			}
			if msg.Type == MessageDelete {
				batch.Deleted = append(batch.Deleted, record.ID)
			} else {
				batch.Updated = append(batch.Updated, record)
			}
		}
	}
	return batch
}

func encodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
