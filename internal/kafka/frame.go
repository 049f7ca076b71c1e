package kafka

import (
	"encoding/json"
	"time"
)

const (
	FrameOpen  = "open"
	FrameData  = "data"
	FrameClose = "close"
)

// Frame is one session message on a party's inbox topic.
type Frame struct {
	FrameID    string          `json:"frame_id"`   // uuid, dedup key
	SessionID  string          `json:"session_id"` // also the partition key
	Kind       string          `json:"kind"`       // open | data | close
	Protocol   string          `json:"protocol,omitempty"`
	From       string          `json:"from"`
	To         string          `json:"to"`
	OccurredAt time.Time       `json:"occurred_at"`
	Reason     string          `json:"reason,omitempty"` // close only
	Payload    json.RawMessage `json:"payload,omitempty"`
}

const inboxPrefix = "ledger.session."

// InboxTopic is the topic a party consumes its sessions from.
func InboxTopic(party string) string { return inboxPrefix + party }

// PartitionKey keeps every frame of a session on one partition.
func PartitionKey(sessionID string) []byte { return []byte(sessionID) }
