package domain_test

import (
	"testing"
	"time"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := domain.Cursor{Partition: 3, Offset: 12345, UnixMilli: 1700000000000}
	token := domain.EncodeCursor(in)
	require.NotEmpty(t, token)

	out, err := domain.DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursor_EmptyAndGarbage(t *testing.T) {
	c, err := domain.DecodeCursor("")
	require.NoError(t, err)
	require.Equal(t, domain.Cursor{}, c)

	_, err = domain.DecodeCursor("!!not base64!!")
	require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
}

func TestFilterCompile_BadRegex(t *testing.T) {
	f := &domain.Filter{Regex: "(unclosed"}
	_, err := f.Compile()
	require.Equal(t, domain.ErrorInvalidRequest, domain.KindOf(err))
}

func TestFilterMatches(t *testing.T) {
	msg := domain.CachedMessage{
		Partition: 0,
		Offset:    1,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Key:       []byte("order-42"),
		Value:     []byte(`{"status":"shipped"}`),
		Headers:   []domain.Header{{Key: "trace-id", Value: []byte("abc123")}},
	}

	tests := []struct {
		name   string
		filter domain.Filter
		want   bool
	}{
		{"empty matches", domain.Filter{}, true},
		{"substring in value", domain.Filter{Query: "shipped"}, true},
		{"substring in key", domain.Filter{Query: "order-42"}, true},
		{"substring in header value", domain.Filter{Query: "abc123"}, true},
		{"substring in header key", domain.Filter{Query: "trace"}, true},
		{"substring miss", domain.Filter{Query: "cancelled"}, false},
		{"regex hit", domain.Filter{Regex: `"status":"\w+"`}, true},
		{"regex miss", domain.Filter{Regex: `^\d+$`}, false},
		{"within time range", domain.Filter{From: msg.Timestamp.Add(-time.Hour), To: msg.Timestamp.Add(time.Hour)}, true},
		{"before range", domain.Filter{From: msg.Timestamp.Add(time.Hour)}, false},
		{"after range", domain.Filter{To: msg.Timestamp.Add(-time.Hour)}, false},
		{"combined all hold", domain.Filter{Query: "ship", Regex: "shipped", From: msg.Timestamp.Add(-time.Hour)}, true},
		{"combined one fails", domain.Filter{Query: "ship", Regex: "returned"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf, err := tt.filter.Compile()
			require.NoError(t, err)
			require.Equal(t, tt.want, cf.Matches(&msg))
		})
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	require.False(t, domain.StatusPending.Terminal())
	require.False(t, domain.StatusRunning.Terminal())
	require.True(t, domain.StatusCompleted.Terminal())
	require.True(t, domain.StatusCancelled.Terminal())
	require.True(t, domain.StatusFailed.Terminal())
}
