package kafka

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
)

// valueDecodeError flags records whose payload is not valid UTF-8. The raw
// bytes are cached regardless; the flag lets the UI render them differently.
const valueDecodeError = "value is not valid utf-8"

// Fetcher owns one live broker connection for a session and pulls record
// batches for its assigned partitions. Bounded partitions are paused as soon
// as their resolved end offset is reached so the broker stops serving them.
type Fetcher struct {
	client      *kgo.Client
	topic       string
	ranges      map[int32]domain.OffsetRange
	pollTimeout time.Duration

	mu        sync.Mutex
	exhausted map[int32]bool
	next      map[int32]int64
}

var _ domain.Fetcher = (*Fetcher)(nil)

// NewFetcher connects to the profile's brokers and assigns the planned
// partition ranges for direct consumption (no consumer group).
func NewFetcher(cfg config.ConnectionProfile, engine config.EngineConfig, topic string, ranges map[int32]domain.OffsetRange) (*Fetcher, error) {
	opts, err := clientOpts(cfg)
	if err != nil {
		return nil, err
	}

	assignments := make(map[int32]kgo.Offset, len(ranges))
	for p, r := range ranges {
		assignments[p] = kgo.NewOffset().At(r.Start)
	}
	opts = append(opts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{topic: assignments}))

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, classify("fetch.connect", err)
	}

	f := &Fetcher{
		client:      client,
		topic:       topic,
		ranges:      ranges,
		pollTimeout: engine.PollTimeout,
		exhausted:   make(map[int32]bool, len(ranges)),
		next:        make(map[int32]int64, len(ranges)),
	}
	for p, r := range ranges {
		f.next[p] = r.Start
	}

	// Ranges that are empty at planning time never produce a record, so the
	// poll loop would otherwise wait on them forever.
	for p, r := range ranges {
		if !r.Open && r.End <= r.Start {
			f.markExhausted(p)
		}
	}
	return f, nil
}

// PollBatch returns up to maxRecords records across the assigned partitions,
// waiting at most the configured poll timeout. Records at or past a bounded
// range's end are dropped and the partition is paused. A batch may be
// returned together with an error; callers should persist the records before
// acting on the error.
func (f *Fetcher) PollBatch(ctx context.Context, maxRecords int) ([]domain.CachedMessage, error) {
	if f.Done() {
		return nil, nil
	}

	pctx, cancel := context.WithTimeout(ctx, f.pollTimeout)
	defer cancel()

	fetches := f.client.PollRecords(pctx, maxRecords)
	if fetches.IsClientClosed() {
		return nil, domain.Errorf(domain.ErrorBrokerUnreachable, "fetch.poll", "client closed")
	}

	var fetchErr error
	fetches.EachError(func(t string, p int32, err error) {
		// An expired poll timeout is a normal idle poll, not a failure.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if fetchErr == nil {
			fetchErr = err
		}
	})

	var batch []domain.CachedMessage
	fetches.EachRecord(func(r *kgo.Record) {
		rng, ok := f.ranges[r.Partition]
		if !ok {
			return
		}
		f.next[r.Partition] = r.Offset + 1
		if !rng.Open && r.Offset >= rng.End {
			f.markExhausted(r.Partition)
			return
		}
		batch = append(batch, convertRecord(r))
		if !rng.Open && r.Offset == rng.End-1 {
			f.markExhausted(r.Partition)
		}
	})

	// Compaction can remove the records at a bounded range's tail, so the
	// record at End-1 may never arrive. A consume position at the current
	// high watermark means the range has nothing left to serve.
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		rng, ok := f.ranges[p.Partition]
		if ok && tailExhausted(rng, f.next[p.Partition], p.HighWatermark) {
			f.markExhausted(p.Partition)
		}
	})

	if fetchErr != nil {
		return batch, classify("fetch.poll", fetchErr)
	}
	return batch, nil
}

// Done reports whether every bounded partition has been exhausted. A session
// with any open range only finishes by cancellation.
func (f *Fetcher) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for p, r := range f.ranges {
		if r.Open || !f.exhausted[p] {
			return false
		}
	}
	return true
}

// tailExhausted reports whether a bounded range can produce no further
// records: the next offset to consume has reached the partition's high
// watermark.
func tailExhausted(rng domain.OffsetRange, next, highWatermark int64) bool {
	return !rng.Open && highWatermark >= 0 && next >= highWatermark
}

func (f *Fetcher) markExhausted(p int32) {
	f.mu.Lock()
	already := f.exhausted[p]
	f.exhausted[p] = true
	f.mu.Unlock()
	if !already {
		f.client.PauseFetchPartitions(map[string][]int32{f.topic: {p}})
	}
}

// Close releases the broker connection.
func (f *Fetcher) Close() {
	f.client.Close()
}

func convertRecord(r *kgo.Record) domain.CachedMessage {
	m := domain.CachedMessage{
		Partition: r.Partition,
		Offset:    r.Offset,
		Timestamp: r.Timestamp,
		Key:       r.Key,
		Value:     r.Value,
	}
	if len(r.Value) > 0 && !utf8.Valid(r.Value) {
		m.DecodeError = valueDecodeError
	}
	for _, h := range r.Headers {
		m.Headers = append(m.Headers, domain.Header{Key: h.Key, Value: h.Value})
	}
	return m
}
