package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mkMessages(partition int32, from, to int64) []domain.CachedMessage {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]domain.CachedMessage, 0, to-from)
	for o := from; o < to; o++ {
		msgs = append(msgs, domain.CachedMessage{
			Partition: partition,
			Offset:    o,
			Timestamp: base.Add(time.Duration(o) * time.Second),
			Key:       []byte(fmt.Sprintf("key-%d", o)),
			Value:     []byte(fmt.Sprintf("value-%d-p%d", o, partition)),
			Headers:   []domain.Header{{Key: "source", Value: []byte("test")}},
		})
	}
	return msgs
}

func TestInsertBatch_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 10))
	require.NoError(t, err)
	require.EqualValues(t, 10, n)

	// Re-consuming the same range changes nothing.
	n, err = s.InsertBatch(ctx, "s1", mkMessages(0, 0, 10))
	require.NoError(t, err)
	require.Zero(t, n)

	count, err := s.Count(ctx, "s1", nil)
	require.NoError(t, err)
	require.EqualValues(t, 10, count)
}

func TestPage_OffsetOrderAndCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 25))
	require.NoError(t, err)
	_, err = s.InsertBatch(ctx, "s1", mkMessages(1, 0, 25))
	require.NoError(t, err)

	// Walk all pages ascending; offsets must be strictly increasing per
	// partition and no row may repeat.
	seen := make(map[string]bool)
	lastPerPartition := make(map[int32]int64)
	cursor := ""
	var fetched int
	for {
		page, err := s.Page(ctx, "s1", cursor, 10, nil, domain.OrderOffsetAsc)
		require.NoError(t, err)
		require.EqualValues(t, 50, page.Total)
		for _, m := range page.Messages {
			id := fmt.Sprintf("%d/%d", m.Partition, m.Offset)
			require.False(t, seen[id], "duplicate row %s", id)
			seen[id] = true
			if last, ok := lastPerPartition[m.Partition]; ok {
				require.Greater(t, m.Offset, last)
			}
			lastPerPartition[m.Partition] = m.Offset
		}
		fetched += len(page.Messages)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	require.Equal(t, 50, fetched)
}

func TestPage_DefaultsToNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 10))
	require.NoError(t, err)

	page, err := s.Page(ctx, "s1", "", 3, nil, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	require.EqualValues(t, 9, page.Messages[0].Offset)
	require.EqualValues(t, 8, page.Messages[1].Offset)
	require.EqualValues(t, 7, page.Messages[2].Offset)
}

func TestPage_SubstringFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 30))
	require.NoError(t, err)

	// "value-1" matches value-1 and value-1x offsets (1, 10..19).
	f := &domain.Filter{Query: "value-1"}
	page, err := s.Page(ctx, "s1", "", 50, f, domain.OrderOffsetAsc)
	require.NoError(t, err)
	require.Len(t, page.Messages, 11)
	require.EqualValues(t, 11, page.Total)
	// Same relative order as the unfiltered page.
	require.EqualValues(t, 1, page.Messages[0].Offset)
	require.EqualValues(t, 10, page.Messages[1].Offset)
	require.EqualValues(t, 19, page.Messages[10].Offset)
}

func TestPage_SubstringFilter_HeaderContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgs := mkMessages(0, 0, 5)
	msgs[3].Headers = []domain.Header{{Key: "trace-id", Value: []byte("deadbeef")}}
	_, err := s.InsertBatch(ctx, "s1", msgs)
	require.NoError(t, err)

	page, err := s.Page(ctx, "s1", "", 10, &domain.Filter{Query: "deadbeef"}, domain.OrderOffsetAsc)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.EqualValues(t, 3, page.Messages[0].Offset)
}

func TestPage_RegexFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 30))
	require.NoError(t, err)

	f := &domain.Filter{Regex: `value-2\d-p0`}
	page, err := s.Page(ctx, "s1", "", 50, f, domain.OrderOffsetAsc)
	require.NoError(t, err)
	require.Len(t, page.Messages, 10)
	for i, m := range page.Messages {
		require.EqualValues(t, 20+i, m.Offset)
	}
}

func TestPage_RegexScanIsCancellable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.InsertBatch(context.Background(), "s1", mkMessages(0, 0, 100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Page(ctx, "s1", "", 10, &domain.Filter{Regex: "value"}, domain.OrderOffsetAsc)
	require.Error(t, err)
}

func TestPage_TimestampFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 20))
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &domain.Filter{From: base.Add(5 * time.Second), To: base.Add(9 * time.Second)}
	page, err := s.Page(ctx, "s1", "", 50, f, domain.OrderTimestampAsc)
	require.NoError(t, err)
	require.Len(t, page.Messages, 5)
	require.EqualValues(t, 5, page.Messages[0].Offset)
	require.EqualValues(t, 9, page.Messages[4].Offset)
}

func TestPage_InvalidInputs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Page(ctx, "s1", "", 0, nil, domain.OrderOffsetAsc)
	require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))

	_, err = s.Page(ctx, "s1", "", 10, nil, "sideways")
	require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))

	_, err = s.Page(ctx, "s1", "???", 10, nil, domain.OrderOffsetAsc)
	require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
}

func TestPartitionCursors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 10))
	require.NoError(t, err)
	_, err = s.InsertBatch(ctx, "s1", mkMessages(2, 5, 42))
	require.NoError(t, err)

	cursors, err := s.PartitionCursors(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, map[int32]int64{0: 9, 2: 41}, cursors)
}

func TestPurgeSession_IsolatesSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, "s1", mkMessages(0, 0, 10))
	require.NoError(t, err)
	_, err = s.InsertBatch(ctx, "s2", mkMessages(0, 0, 7))
	require.NoError(t, err)

	require.NoError(t, s.PurgeSession(ctx, "s1"))

	n, err := s.Count(ctx, "s1", nil)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.Count(ctx, "s2", nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}

func TestHeadersRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := domain.CachedMessage{
		Partition: 0,
		Offset:    1,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Value:     []byte("v"),
		Headers: []domain.Header{
			{Key: "a", Value: []byte("one")},
			{Key: "a", Value: []byte("two")}, // duplicate keys preserved
			{Key: "b", Value: nil},
		},
		DecodeError: "value is not valid utf-8",
	}
	_, err := s.InsertBatch(ctx, "s1", []domain.CachedMessage{msg})
	require.NoError(t, err)

	page, err := s.Page(ctx, "s1", "", 1, nil, domain.OrderOffsetAsc)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	got := page.Messages[0]
	require.Len(t, got.Headers, 3)
	require.Equal(t, "a", got.Headers[0].Key)
	require.Equal(t, []byte("one"), got.Headers[0].Value)
	require.Equal(t, []byte("two"), got.Headers[1].Value)
	require.Equal(t, msg.DecodeError, got.DecodeError)
}
