package domain_test

import (
	"testing"
	"time"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/stretchr/testify/require"
)

func descriptor(parts ...domain.PartitionWatermarks) domain.TopicDescriptor {
	return domain.TopicDescriptor{Name: "orders", Partitions: parts, TakenAt: time.Now()}
}

func TestPlanOffsets_All(t *testing.T) {
	td := descriptor(
		domain.PartitionWatermarks{Partition: 0, Low: 10, High: 500},
		domain.PartitionWatermarks{Partition: 1, Low: 0, High: 42},
	)
	ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{Topic: "orders", Mode: domain.ModeAll}, nil)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	require.Equal(t, domain.OffsetRange{Start: 10, Open: true}, ranges[0])
	require.Equal(t, domain.OffsetRange{Start: 0, Open: true}, ranges[1])
	require.Zero(t, domain.PlannedTotal(ranges))
}

func TestPlanOffsets_LastN(t *testing.T) {
	// Three partitions with watermarks (0, 500): LAST_N(100) must start at
	// 400 on each and total 300.
	td := descriptor(
		domain.PartitionWatermarks{Partition: 0, Low: 0, High: 500},
		domain.PartitionWatermarks{Partition: 1, Low: 0, High: 500},
		domain.PartitionWatermarks{Partition: 2, Low: 0, High: 500},
	)
	ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
		Topic: "orders", Mode: domain.ModeLastN, MaxPerPart: 100,
	}, nil)
	require.NoError(t, err)
	for p := int32(0); p < 3; p++ {
		require.Equal(t, domain.OffsetRange{Start: 400, End: 500}, ranges[p])
	}
	require.EqualValues(t, 300, domain.PlannedTotal(ranges))
}

func TestPlanOffsets_LastN_ShortPartition(t *testing.T) {
	td := descriptor(domain.PartitionWatermarks{Partition: 0, Low: 5, High: 30})
	ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
		Topic: "orders", Mode: domain.ModeLastN, MaxPerPart: 100,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.OffsetRange{Start: 5, End: 30}, ranges[0])
}

func TestPlanOffsets_HeadN(t *testing.T) {
	td := descriptor(domain.PartitionWatermarks{Partition: 0, Low: 10, High: 500})
	ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
		Topic: "orders", Mode: domain.ModeHeadN, MaxPerPart: 50,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.OffsetRange{Start: 10, End: 60}, ranges[0])
}

func TestPlanOffsets_FromOffset(t *testing.T) {
	td := descriptor(domain.PartitionWatermarks{Partition: 0, Low: 100, High: 500})

	t.Run("within window", func(t *testing.T) {
		ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
			Topic: "orders", Mode: domain.ModeFromOffset, Offset: 250,
		}, nil)
		require.NoError(t, err)
		require.Equal(t, domain.OffsetRange{Start: 250, End: 500}, ranges[0])
	})

	t.Run("below low watermark clamps", func(t *testing.T) {
		ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
			Topic: "orders", Mode: domain.ModeFromOffset, Offset: 3,
		}, nil)
		require.NoError(t, err)
		require.Equal(t, domain.OffsetRange{Start: 100, End: 500}, ranges[0])
	})

	t.Run("beyond high watermark fails", func(t *testing.T) {
		_, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
			Topic: "orders", Mode: domain.ModeFromOffset, Offset: 10000,
		}, nil)
		require.Error(t, err)
		require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
	})
}

func TestPlanOffsets_FromTimestamp(t *testing.T) {
	td := descriptor(
		domain.PartitionWatermarks{Partition: 0, Low: 10, High: 500},
		domain.PartitionWatermarks{Partition: 1, Low: 20, High: 80},
	)
	req := domain.ConsumptionRequest{
		Topic: "orders", Mode: domain.ModeFromTimestamp, Timestamp: time.Now(),
	}

	t.Run("resolved offsets used", func(t *testing.T) {
		ranges, err := domain.PlanOffsets(td, req, map[int32]int64{0: 300, 1: 77})
		require.NoError(t, err)
		require.Equal(t, domain.OffsetRange{Start: 300, End: 500}, ranges[0])
		require.Equal(t, domain.OffsetRange{Start: 77, End: 80}, ranges[1])
	})

	t.Run("unresolved falls back to low watermark", func(t *testing.T) {
		ranges, err := domain.PlanOffsets(td, req, map[int32]int64{0: -1})
		require.NoError(t, err)
		require.Equal(t, domain.OffsetRange{Start: 10, End: 500}, ranges[0])
		require.Equal(t, domain.OffsetRange{Start: 20, End: 80}, ranges[1])
	})
}

func TestPlanOffsets_Validation(t *testing.T) {
	td := descriptor(domain.PartitionWatermarks{Partition: 0, Low: 0, High: 10})

	t.Run("unknown partition", func(t *testing.T) {
		_, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
			Topic: "orders", Mode: domain.ModeAll, Partitions: []int32{7},
		}, nil)
		require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := domain.PlanOffsets(td, domain.ConsumptionRequest{Topic: "orders", Mode: "BOGUS"}, nil)
		require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
	})

	t.Run("non-positive count", func(t *testing.T) {
		_, err := domain.PlanOffsets(td, domain.ConsumptionRequest{Topic: "orders", Mode: domain.ModeLastN}, nil)
		require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
	})

	t.Run("missing timestamp", func(t *testing.T) {
		_, err := domain.PlanOffsets(td, domain.ConsumptionRequest{Topic: "orders", Mode: domain.ModeFromTimestamp}, nil)
		require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
	})
}

func TestPlanOffsets_PartitionSubset(t *testing.T) {
	td := descriptor(
		domain.PartitionWatermarks{Partition: 0, Low: 0, High: 10},
		domain.PartitionWatermarks{Partition: 1, Low: 0, High: 10},
		domain.PartitionWatermarks{Partition: 2, Low: 0, High: 10},
	)
	ranges, err := domain.PlanOffsets(td, domain.ConsumptionRequest{
		Topic: "orders", Mode: domain.ModeAll, Partitions: []int32{1},
	}, nil)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	_, ok := ranges[1]
	require.True(t, ok)
}
