package domain

import "time"

// PartitionWatermarks is the low/high offset window of one partition at a
// point in time.
type PartitionWatermarks struct {
	Partition int32 `json:"partition"`
	Low       int64 `json:"low"`
	High      int64 `json:"high"`
}

// TopicDescriptor is a read-only snapshot of a topic's partition set taken at
// session start. Watermarks may go stale during a long session; callers
// re-query on demand rather than invalidating cached rows.
type TopicDescriptor struct {
	Name       string                `json:"name"`
	Partitions []PartitionWatermarks `json:"partitions"`
	TakenAt    time.Time             `json:"taken_at"`
}

// Watermarks returns the watermark entry for a partition.
func (t TopicDescriptor) Watermarks(partition int32) (PartitionWatermarks, bool) {
	for _, p := range t.Partitions {
		if p.Partition == partition {
			return p, true
		}
	}
	return PartitionWatermarks{}, false
}

// PartitionIDs returns the partition ids in the snapshot.
func (t TopicDescriptor) PartitionIDs() []int32 {
	ids := make([]int32, 0, len(t.Partitions))
	for _, p := range t.Partitions {
		ids = append(ids, p.Partition)
	}
	return ids
}
