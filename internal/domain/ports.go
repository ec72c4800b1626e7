package domain

import (
	"context"
	"time"

	"github.com/miguelbaldi/krust/internal/config"
)

// Fetcher pulls record batches for one session's assigned partitions.
// Implementations preserve per-partition offset order; interleaving across
// partitions is unspecified.
type Fetcher interface {
	// PollBatch returns up to maxRecords records across the assigned
	// partitions, waiting at most the fetcher's poll timeout. Records past
	// a bounded range's end are never returned; the affected partition is
	// marked exhausted instead. An empty batch with a nil error is a
	// normal idle poll.
	PollBatch(ctx context.Context, maxRecords int) ([]CachedMessage, error)
	// Done reports whether every bounded partition is exhausted.
	Done() bool
	Close()
}

// FetcherFactory opens a live broker connection for a session.
type FetcherFactory interface {
	NewFetcher(topic string, ranges map[int32]OffsetRange) (Fetcher, error)
}

// MetadataClient answers topic and watermark lookups against the broker.
type MetadataClient interface {
	IsHealthy() bool
	ListTopics(ctx context.Context, showInternal bool) (map[string]int, error)
	DescribeTopic(ctx context.Context, topic string) (TopicDescriptor, error)
	// OffsetsAfter resolves, per partition, the first offset whose record
	// timestamp is at or after ts; -1 when no such record exists.
	OffsetsAfter(ctx context.Context, topic string, ts time.Time, partitions []int32) (map[int32]int64, error)
	Close()
}

// ClientFactory creates broker-facing clients for a connection profile.
type ClientFactory interface {
	CreateMetadata(cfg config.ConnectionProfile) (MetadataClient, error)
	CreateFetcherFactory(cfg config.ConnectionProfile) FetcherFactory
}

// ProfileRepository manages connection profiles persisted in the YAML
// config file.
type ProfileRepository interface {
	Save(cfg config.ConnectionProfile) error
	Delete(name string) error
	FindByName(name string) (config.ConnectionProfile, bool)
	FindAll() []config.ConnectionProfile
}

// MessageStore is the embedded per-session cache.
type MessageStore interface {
	// InsertBatch writes msgs for a session in a single transaction and
	// returns the number of newly inserted rows. Re-inserting an existing
	// (partition, offset) is a silent no-op.
	InsertBatch(ctx context.Context, sessionID string, msgs []CachedMessage) (int64, error)
	Page(ctx context.Context, sessionID string, cursor string, pageSize int, f *Filter, order SortOrder) (Page, error)
	Count(ctx context.Context, sessionID string, f *Filter) (int64, error)
	// PartitionCursors returns the highest cached offset per partition.
	PartitionCursors(ctx context.Context, sessionID string) (map[int32]int64, error)
	PurgeSession(ctx context.Context, sessionID string) error
}
