// Package domain defines the core entities of the consumption-and-cache
// engine: consumption requests and their resolved offset plans, cached
// messages, session state, paged reads, and the interfaces the
// infrastructure layer implements.
package domain

import "time"

// Header is one Kafka record header. Duplicate keys are allowed and order is
// preserved as received.
type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// CachedMessage is one consumed record as held in the cache.
// (SessionID, Partition, Offset) is unique; rows are immutable once written.
type CachedMessage struct {
	SessionID   string    `json:"session_id,omitempty"`
	Partition   int32     `json:"partition"`
	Offset      int64     `json:"offset"`
	Timestamp   time.Time `json:"timestamp"`
	Key         []byte    `json:"key,omitempty"`
	Value       []byte    `json:"value"`
	Headers     []Header  `json:"headers,omitempty"`
	DecodeError string    `json:"decode_error,omitempty"`
}
