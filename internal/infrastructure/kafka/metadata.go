package kafka

import (
	"context"
	"time"

	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// MetadataClient answers watermark, timestamp and topic-listing queries for
// one profile. It holds its own connection, independent of any fetcher.
type MetadataClient struct {
	client *kgo.Client
	adm    *kadm.Client
}

var _ domain.MetadataClient = (*MetadataClient)(nil)

// NewMetadataClient opens a metadata connection for the profile.
func NewMetadataClient(cfg config.ConnectionProfile) (*MetadataClient, error) {
	opts, err := clientOpts(cfg)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, classify("metadata.connect", err)
	}
	return &MetadataClient{client: client, adm: kadm.NewClient(client)}, nil
}

// IsHealthy checks if the cluster is reachable.
func (c *MetadataClient) IsHealthy() bool {
	if c == nil || c.adm == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.adm.BrokerMetadata(ctx)
	return err == nil
}

// ListTopics returns topics as a simplified map name->partition count.
func (c *MetadataClient) ListTopics(ctx context.Context, showInternal bool) (map[string]int, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var m kadm.TopicDetails
	var err error
	if showInternal {
		m, err = c.adm.ListTopicsWithInternal(cctx)
	} else {
		m, err = c.adm.ListTopics(cctx)
	}
	if err != nil {
		return nil, classify("metadata.topics", err)
	}

	out := make(map[string]int)
	for name, info := range m {
		out[name] = len(info.Partitions)
	}
	return out, nil
}

// DescribeTopic takes a watermark snapshot of the topic's partitions.
func (c *MetadataClient) DescribeTopic(ctx context.Context, topic string) (domain.TopicDescriptor, error) {
	var td domain.TopicDescriptor

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	details, err := c.adm.ListTopics(cctx, topic)
	if err != nil {
		return td, classify("metadata.describe", err)
	}
	if !details.Has(topic) {
		return td, domain.Errorf(domain.ErrorTopicNotFound, "metadata.describe", "topic %s does not exist", topic)
	}

	starts, err := c.adm.ListStartOffsets(cctx, topic)
	if err != nil {
		return td, classify("metadata.describe", err)
	}
	if err := starts.Error(); err != nil {
		return td, classify("metadata.describe", err)
	}
	ends, err := c.adm.ListEndOffsets(cctx, topic)
	if err != nil {
		return td, classify("metadata.describe", err)
	}
	if err := ends.Error(); err != nil {
		return td, classify("metadata.describe", err)
	}

	td.Name = topic
	td.TakenAt = time.Now()
	for _, lo := range starts[topic] {
		high := lo.Offset
		if end, ok := ends.Lookup(topic, lo.Partition); ok {
			high = end.Offset
		}
		td.Partitions = append(td.Partitions, domain.PartitionWatermarks{
			Partition: lo.Partition,
			Low:       lo.Offset,
			High:      high,
		})
	}
	return td, nil
}

// OffsetsAfter resolves, per partition, the first offset whose record
// timestamp is at or after ts. Partitions without such a record map to -1.
func (c *MetadataClient) OffsetsAfter(ctx context.Context, topic string, ts time.Time, partitions []int32) (map[int32]int64, error) {
	cctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	listed, err := c.adm.ListOffsetsAfterMilli(cctx, ts.UnixMilli(), topic)
	if err != nil {
		return nil, classify("metadata.offsets_after", err)
	}
	if err := listed.Error(); err != nil {
		return nil, classify("metadata.offsets_after", err)
	}

	wanted := make(map[int32]bool, len(partitions))
	for _, p := range partitions {
		wanted[p] = true
	}

	out := make(map[int32]int64)
	for _, lo := range listed[topic] {
		if len(partitions) > 0 && !wanted[lo.Partition] {
			continue
		}
		out[lo.Partition] = lo.Offset
	}
	return out, nil
}

// Close releases the metadata connection.
func (c *MetadataClient) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
	}
}
