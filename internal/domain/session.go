package domain

import "time"

// SelectionMode determines how the start of consumption is chosen.
type SelectionMode string

const (
	// ModeAll consumes from the low watermark and keeps following the
	// partition until the session is cancelled.
	ModeAll SelectionMode = "ALL"
	// ModeFromTimestamp starts at the broker-resolved offset for a
	// timestamp, falling back to the low watermark when no record exists
	// at or after it.
	ModeFromTimestamp SelectionMode = "FROM_TIMESTAMP"
	// ModeFromOffset starts at an explicit offset.
	ModeFromOffset SelectionMode = "FROM_OFFSET"
	// ModeLastN consumes the newest N records per partition.
	ModeLastN SelectionMode = "LAST_N"
	// ModeHeadN consumes the oldest N records per partition.
	ModeHeadN SelectionMode = "HEAD_N"
)

// ConsumptionRequest fully determines the offset ranges a session consumes.
// Immutable once the session starts.
type ConsumptionRequest struct {
	Topic      string        `json:"topic"`
	Partitions []int32       `json:"partitions,omitempty"` // empty means all partitions
	Mode       SelectionMode `json:"mode"`
	Timestamp  time.Time     `json:"timestamp,omitempty"`    // ModeFromTimestamp
	Offset     int64         `json:"offset,omitempty"`       // ModeFromOffset
	MaxPerPart int64         `json:"max_per_part,omitempty"` // ModeLastN / ModeHeadN
}

// SessionStatus is the coordinator state machine's current state.
type SessionStatus string

const (
	StatusPending   SessionStatus = "PENDING"
	StatusRunning   SessionStatus = "RUNNING"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusCancelled SessionStatus = "CANCELLED"
	StatusFailed    SessionStatus = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// SessionState is the read-only projection of a session exposed to callers.
// Cursors holds the last offset successfully cached per partition.
type SessionState struct {
	ID           string             `json:"id"`
	ProfileName  string             `json:"profile_name"`
	Request      ConsumptionRequest `json:"request"`
	Status       SessionStatus      `json:"status"`
	Cursors      map[int32]int64    `json:"cursors,omitempty"`
	CachedCount  int64              `json:"cached_count"`
	PlannedTotal int64              `json:"planned_total"` // 0 for open-ended sessions
	StartedAt    time.Time          `json:"started_at,omitempty"`
	FinishedAt   time.Time          `json:"finished_at,omitempty"`
	Err          *EngineError       `json:"-"`
	ErrDetail    string             `json:"error,omitempty"`
}

// ProgressEvent is delivered on a session's subscription channel after every
// batch flush and on every status transition. Delivery is non-blocking; slow
// subscribers observe the latest state on their next receive.
type ProgressEvent struct {
	SessionID    string        `json:"session_id"`
	Status       SessionStatus `json:"status"`
	CachedCount  int64         `json:"cached_count"`
	PlannedTotal int64         `json:"planned_total"`
	Err          string        `json:"error,omitempty"`
}
