// Package testutil provides in-memory test doubles for the broker-facing
// ports so lifecycle code can be tested without a live cluster.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
)

// FakeMetadataClient is a test double implementing domain.MetadataClient
// with configurable responses.
type FakeMetadataClient struct {
	Topics     map[string]int
	Descriptor domain.TopicDescriptor
	TsOffsets  map[int32]int64
	Healthy    bool
	Err        error

	mu     sync.Mutex
	closed bool
}

func NewFakeMetadataClient() *FakeMetadataClient {
	return &FakeMetadataClient{Healthy: true, Topics: map[string]int{}}
}

func (f *FakeMetadataClient) IsHealthy() bool { return f.Healthy }

func (f *FakeMetadataClient) ListTopics(_ context.Context, _ bool) (map[string]int, error) {
	return f.Topics, f.Err
}

func (f *FakeMetadataClient) DescribeTopic(_ context.Context, topic string) (domain.TopicDescriptor, error) {
	if f.Err != nil {
		return domain.TopicDescriptor{}, f.Err
	}
	if f.Descriptor.Name != topic {
		return domain.TopicDescriptor{}, domain.Errorf(domain.ErrorTopicNotFound, "metadata.describe", "unknown topic %q", topic)
	}
	return f.Descriptor, nil
}

func (f *FakeMetadataClient) OffsetsAfter(_ context.Context, _ string, _ time.Time, _ []int32) (map[int32]int64, error) {
	return f.TsOffsets, f.Err
}

func (f *FakeMetadataClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close has been called.
func (f *FakeMetadataClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PollStep scripts one PollBatch call of a FakeFetcher.
type PollStep struct {
	Batch []domain.CachedMessage
	Err   error
}

// FakeFetcher replays a script of poll results. With Open set it never
// reports Done and idles once the script is exhausted, like a live tail.
type FakeFetcher struct {
	Open bool

	mu     sync.Mutex
	steps  []PollStep
	closed bool
}

func NewFakeFetcher(open bool, steps ...PollStep) *FakeFetcher {
	return &FakeFetcher{Open: open, steps: steps}
}

func (f *FakeFetcher) PollBatch(ctx context.Context, _ int) ([]domain.CachedMessage, error) {
	f.mu.Lock()
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		f.mu.Unlock()
		return s.Batch, s.Err
	}
	f.mu.Unlock()

	// Idle poll.
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, nil
}

func (f *FakeFetcher) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.Open && len(f.steps) == 0
}

func (f *FakeFetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close has been called.
func (f *FakeFetcher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeFetcherFactory hands out a prepared fetcher and records the ranges it
// was asked for.
type FakeFetcherFactory struct {
	Fetcher domain.Fetcher
	Err     error

	mu         sync.Mutex
	LastTopic  string
	LastRanges map[int32]domain.OffsetRange
}

func (f *FakeFetcherFactory) NewFetcher(topic string, ranges map[int32]domain.OffsetRange) (domain.Fetcher, error) {
	f.mu.Lock()
	f.LastTopic = topic
	f.LastRanges = ranges
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Fetcher, nil
}

// Ranges returns the ranges from the most recent NewFetcher call.
func (f *FakeFetcherFactory) Ranges() map[int32]domain.OffsetRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LastRanges
}

// FakeClientFactory returns prepared clients regardless of profile.
type FakeClientFactory struct {
	Meta    domain.MetadataClient
	Factory domain.FetcherFactory
	MetaErr error
}

func (f *FakeClientFactory) CreateMetadata(_ config.ConnectionProfile) (domain.MetadataClient, error) {
	if f.MetaErr != nil {
		return nil, f.MetaErr
	}
	return f.Meta, nil
}

func (f *FakeClientFactory) CreateFetcherFactory(_ config.ConnectionProfile) domain.FetcherFactory {
	return f.Factory
}

// FakeProfileRepository is a simple in-memory repository for tests.
type FakeProfileRepository struct {
	mu   sync.Mutex
	Cfgs []config.ConnectionProfile
}

func (r *FakeProfileRepository) Save(cfg config.ConnectionProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Cfgs {
		if r.Cfgs[i].Name == cfg.Name {
			r.Cfgs[i] = cfg
			return nil
		}
	}
	r.Cfgs = append(r.Cfgs, cfg)
	return nil
}

func (r *FakeProfileRepository) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Cfgs {
		if r.Cfgs[i].Name == name {
			r.Cfgs = append(r.Cfgs[:i], r.Cfgs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *FakeProfileRepository) FindByName(name string) (config.ConnectionProfile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.Cfgs {
		if c.Name == name {
			return c, true
		}
	}
	return config.ConnectionProfile{}, false
}

func (r *FakeProfileRepository) FindAll() []config.ConnectionProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.ConnectionProfile(nil), r.Cfgs...)
}

// Descriptor builds a topic descriptor with identical watermarks on every
// partition.
func Descriptor(topic string, partitions int, low, high int64) domain.TopicDescriptor {
	td := domain.TopicDescriptor{Name: topic, TakenAt: time.Now()}
	for p := 0; p < partitions; p++ {
		td.Partitions = append(td.Partitions, domain.PartitionWatermarks{
			Partition: int32(p),
			Low:       low,
			High:      high,
		})
	}
	return td
}

// Message builds a cached message with a deterministic payload.
func Message(partition int32, offset int64, ts time.Time) domain.CachedMessage {
	return domain.CachedMessage{
		Partition: partition,
		Offset:    offset,
		Timestamp: ts,
		Key:       []byte(fmt.Sprintf("key-%d-%d", partition, offset)),
		Value:     []byte(fmt.Sprintf("value-%d-p%d", offset, partition)),
	}
}
