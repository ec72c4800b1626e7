package session

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"sync"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/utils"
)

const exportPageSize = 1000

// csvTimestamp keeps millisecond precision in exported timestamps.
const csvTimestamp = "2006-01-02T15:04:05.000Z07:00"

var csvHeader = []string{"partition", "offset", "timestamp", "key", "value", "headers"}

// ExportJob streams a session's cached messages to a CSV sink in offset
// order. The set of exported rows is fixed when the job starts: records
// cached after that point are left for the next export.
type ExportJob struct {
	sessionID string
	store     domain.MessageStore
	filter    *domain.Filter
	sink      io.Writer

	mu      sync.Mutex
	written int64
	lastRow string
	err     error

	done chan struct{}
}

// NewExportJob prepares an export of one session's cache.
func NewExportJob(sessionID string, store domain.MessageStore, filter *domain.Filter, sink io.Writer) *ExportJob {
	return &ExportJob{
		sessionID: sessionID,
		store:     store,
		filter:    filter,
		sink:      sink,
		done:      make(chan struct{}),
	}
}

// Run walks the cache page by page and writes rows until done or failed.
// A sink failure surfaces as EXPORT_INTERRUPTED with the count of rows
// already written intact; the consumption session, if still running, is
// unaffected.
func (j *ExportJob) Run(ctx context.Context) error {
	defer close(j.done)

	ceilings, err := j.store.PartitionCursors(ctx, j.sessionID)
	if err != nil {
		return j.fail(err)
	}

	w := csv.NewWriter(j.sink)
	if err := w.Write(csvHeader); err != nil {
		return j.fail(domain.NewError(domain.ErrorExportInterrupted, "export.write", err))
	}

	cursor := ""
	for {
		page, err := j.store.Page(ctx, j.sessionID, cursor, exportPageSize, j.filter, domain.OrderOffsetAsc)
		if err != nil {
			return j.fail(err)
		}

		for i := range page.Messages {
			m := &page.Messages[i]
			ceil, ok := ceilings[m.Partition]
			if !ok || m.Offset > ceil {
				continue
			}
			if err := w.Write(csvRow(m)); err != nil {
				return j.fail(domain.NewError(domain.ErrorExportInterrupted, "export.write", err))
			}
			j.advance(m)
		}

		w.Flush()
		if err := w.Error(); err != nil {
			return j.fail(domain.NewError(domain.ErrorExportInterrupted, "export.write", err))
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	written, _ := j.Progress()
	utils.Logger.Info("export finished", "session", j.sessionID, "rows", written)
	return nil
}

// Start launches Run on its own goroutine.
func (j *ExportJob) Start(ctx context.Context) {
	go func() {
		_ = j.Run(ctx)
	}()
}

// Done closes when the job stops, successfully or not.
func (j *ExportJob) Done() <-chan struct{} {
	return j.done
}

// Err returns the failure, nil while running or after success.
func (j *ExportJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Progress reports rows written so far and the cursor of the last row, so an
// interrupted export tells the caller exactly where it stopped.
func (j *ExportJob) Progress() (int64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.written, j.lastRow
}

func (j *ExportJob) advance(m *domain.CachedMessage) {
	j.mu.Lock()
	j.written++
	j.lastRow = domain.EncodeCursor(domain.Cursor{
		Partition: m.Partition,
		Offset:    m.Offset,
		UnixMilli: m.Timestamp.UnixMilli(),
	})
	j.mu.Unlock()
}

func (j *ExportJob) fail(err error) error {
	j.mu.Lock()
	j.err = err
	written := j.written
	j.mu.Unlock()
	utils.Logger.Error("export stopped", "session", j.sessionID, "rows", written, "err", err)
	return err
}

func csvRow(m *domain.CachedMessage) []string {
	return []string{
		strconv.FormatInt(int64(m.Partition), 10),
		strconv.FormatInt(m.Offset, 10),
		m.Timestamp.UTC().Format(csvTimestamp),
		string(m.Key),
		string(m.Value),
		headersJSON(m.Headers),
	}
}

// headersJSON renders headers as a JSON array of key/value pairs, values as
// text. Empty headers export as an empty cell rather than "[]".
func headersJSON(hs []domain.Header) string {
	if len(hs) == 0 {
		return ""
	}
	type pair struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	pairs := make([]pair, len(hs))
	for i, h := range hs {
		pairs[i] = pair{Key: h.Key, Value: string(h.Value)}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return ""
	}
	return string(b)
}
