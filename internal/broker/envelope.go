package broker

import "encoding/json"

// Envelope is the message body published for every outbox event.
type Envelope struct {
	Version string          `json:"version"`
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Height  int64           `json:"height"`
	Payload json.RawMessage `json:"payload"`
}
