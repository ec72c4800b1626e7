package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/miguelbaldi/krust/internal/domain"
)

var _ domain.MessageStore = (*Store)(nil)

// headerRow is the JSON shape headers are stored as. Values are kept as text
// so substring filters can be pushed into SQL.
type headerRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func encodeHeaders(hs []domain.Header) (string, error) {
	if len(hs) == 0 {
		return "", nil
	}
	rows := make([]headerRow, len(hs))
	for i, h := range hs {
		rows[i] = headerRow{Key: h.Key, Value: string(h.Value)}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHeaders(s string) []domain.Header {
	if s == "" {
		return nil
	}
	var rows []headerRow
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		return nil
	}
	hs := make([]domain.Header, len(rows))
	for i, r := range rows {
		hs[i] = domain.Header{Key: r.Key, Value: []byte(r.Value)}
	}
	return hs
}

// InsertBatch writes a batch of records for one session in a single
// transaction. Offsets already present are silently ignored so resuming a
// partially cached range never duplicates rows. Returns the number of rows
// actually inserted.
func (s *Store) InsertBatch(ctx context.Context, sessionID string, msgs []domain.CachedMessage) (int64, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.NewError(domain.ErrorCacheIO, "cache.insert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO kr_message (session_id, partition, offset, timestamp, key, value, headers, decode_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, domain.NewError(domain.ErrorCacheIO, "cache.insert", err)
	}
	defer stmt.Close()

	var inserted int64
	for i := range msgs {
		m := &msgs[i]
		headers, err := encodeHeaders(m.Headers)
		if err != nil {
			return 0, domain.NewError(domain.ErrorCacheIO, "cache.insert", err)
		}
		res, err := stmt.ExecContext(ctx, sessionID, m.Partition, m.Offset,
			m.Timestamp.UnixMilli(), m.Key, m.Value, headers, m.DecodeError)
		if err != nil {
			return 0, domain.NewError(domain.ErrorCacheIO, "cache.insert", err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.NewError(domain.ErrorCacheIO, "cache.insert", err)
	}
	return inserted, nil
}

// likePattern escapes LIKE metacharacters and wraps q for substring search.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// indexedConditions renders the filter parts that can be pushed into SQL
// (everything except regex).
func indexedConditions(f *domain.Filter) (string, []any) {
	if f.IsZero() {
		return "", nil
	}
	var conds []string
	var args []any
	if f.Query != "" {
		p := likePattern(f.Query)
		conds = append(conds, `(key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\' OR headers LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

// cursorCondition renders the keyset predicate continuing after cur in the
// given order.
func cursorCondition(order domain.SortOrder, cur domain.Cursor) (string, []any) {
	switch order {
	case domain.OrderOffsetAsc:
		return " AND (partition > ? OR (partition = ? AND offset > ?))",
			[]any{cur.Partition, cur.Partition, cur.Offset}
	case domain.OrderOffsetDesc:
		return " AND (partition < ? OR (partition = ? AND offset < ?))",
			[]any{cur.Partition, cur.Partition, cur.Offset}
	case domain.OrderTimestampAsc:
		return " AND (timestamp > ? OR (timestamp = ? AND (partition > ? OR (partition = ? AND offset > ?))))",
			[]any{cur.UnixMilli, cur.UnixMilli, cur.Partition, cur.Partition, cur.Offset}
	case domain.OrderTimestampDesc:
		return " AND (timestamp < ? OR (timestamp = ? AND (partition < ? OR (partition = ? AND offset < ?))))",
			[]any{cur.UnixMilli, cur.UnixMilli, cur.Partition, cur.Partition, cur.Offset}
	}
	return "", nil
}

func orderBy(order domain.SortOrder) string {
	switch order {
	case domain.OrderOffsetAsc:
		return " ORDER BY partition ASC, offset ASC"
	case domain.OrderOffsetDesc:
		return " ORDER BY partition DESC, offset DESC"
	case domain.OrderTimestampAsc:
		return " ORDER BY timestamp ASC, partition ASC, offset ASC"
	case domain.OrderTimestampDesc:
		return " ORDER BY timestamp DESC, partition DESC, offset DESC"
	}
	return ""
}

// Page returns one page of cached messages for a session, continuing after
// the given cursor. Substring and timestamp filters are evaluated inside the
// query; a regex filter falls back to a row-by-row scan that honors ctx
// cancellation between rows.
func (s *Store) Page(ctx context.Context, sessionID string, cursor string, pageSize int, f *domain.Filter, order domain.SortOrder) (domain.Page, error) {
	var page domain.Page
	if !order.Valid() {
		return page, domain.Errorf(domain.ErrorInvalidRequest, "cache.page", "unknown sort order %q", order)
	}
	order = order.OrDefault()
	if pageSize <= 0 {
		return page, domain.Errorf(domain.ErrorInvalidRequest, "cache.page", "page size must be positive")
	}

	cur, err := domain.DecodeCursor(cursor)
	if err != nil {
		return page, err
	}
	cf, err := f.Compile()
	if err != nil {
		return page, err
	}

	query := "SELECT partition, offset, timestamp, key, value, headers, decode_error FROM kr_message WHERE session_id = ?"
	args := []any{sessionID}
	if cursor != "" {
		cond, condArgs := cursorCondition(order, cur)
		query += cond
		args = append(args, condArgs...)
	}
	cond, condArgs := indexedConditions(f)
	query += cond
	args = append(args, condArgs...)
	query += orderBy(order)
	if !f.NeedsScan() {
		query += " LIMIT ?"
		args = append(args, pageSize)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, domain.NewError(domain.ErrorCacheIO, "cache.page", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return page, err
		}
		m, err := scanMessage(rows, sessionID)
		if err != nil {
			return page, domain.NewError(domain.ErrorCacheIO, "cache.page", err)
		}
		if f.NeedsScan() && !cf.Matches(&m) {
			continue
		}
		page.Messages = append(page.Messages, m)
		if len(page.Messages) == pageSize {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return page, domain.NewError(domain.ErrorCacheIO, "cache.page", err)
	}

	if len(page.Messages) == pageSize {
		last := page.Messages[len(page.Messages)-1]
		page.NextCursor = domain.EncodeCursor(domain.Cursor{
			Partition: last.Partition,
			Offset:    last.Offset,
			UnixMilli: last.Timestamp.UnixMilli(),
		})
	}

	total, err := s.Count(ctx, sessionID, f)
	if err != nil {
		return page, err
	}
	page.Total = total
	return page, nil
}

// Count returns the number of rows matching the filter. For filters without
// a regex this is a single indexed aggregate; regex filters scan row by row
// and remain cancellable through ctx.
func (s *Store) Count(ctx context.Context, sessionID string, f *domain.Filter) (int64, error) {
	cond, condArgs := indexedConditions(f)
	args := append([]any{sessionID}, condArgs...)

	if f == nil || !f.NeedsScan() {
		var n int64
		query := "SELECT COUNT(*) FROM kr_message WHERE session_id = ?" + cond
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return 0, domain.NewError(domain.ErrorCacheIO, "cache.count", err)
		}
		return n, nil
	}

	cf, err := f.Compile()
	if err != nil {
		return 0, err
	}
	query := "SELECT partition, offset, timestamp, key, value, headers, decode_error FROM kr_message WHERE session_id = ?" + cond
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, domain.NewError(domain.ErrorCacheIO, "cache.count", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		m, err := scanMessage(rows, sessionID)
		if err != nil {
			return 0, domain.NewError(domain.ErrorCacheIO, "cache.count", err)
		}
		if cf.Matches(&m) {
			n++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, domain.NewError(domain.ErrorCacheIO, "cache.count", err)
	}
	return n, nil
}

// PartitionCursors returns the highest cached offset per partition for a
// session; consumption resumes one past these.
func (s *Store) PartitionCursors(ctx context.Context, sessionID string) (map[int32]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT partition, MAX(offset) FROM kr_message WHERE session_id = ? GROUP BY partition", sessionID)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCacheIO, "cache.cursors", err)
	}
	defer rows.Close()

	cursors := make(map[int32]int64)
	for rows.Next() {
		var p int32
		var o int64
		if err := rows.Scan(&p, &o); err != nil {
			return nil, domain.NewError(domain.ErrorCacheIO, "cache.cursors", err)
		}
		cursors[p] = o
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.ErrorCacheIO, "cache.cursors", err)
	}
	return cursors, nil
}

// PurgeSession removes all cached rows of one session. Other sessions'
// rows are untouched.
func (s *Store) PurgeSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kr_message WHERE session_id = ?", sessionID); err != nil {
		return domain.NewError(domain.ErrorCacheIO, "cache.purge", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows, sessionID string) (domain.CachedMessage, error) {
	var m domain.CachedMessage
	var ts int64
	var key, value []byte
	var headers, decodeErr sql.NullString
	if err := rows.Scan(&m.Partition, &m.Offset, &ts, &key, &value, &headers, &decodeErr); err != nil {
		return m, err
	}
	m.SessionID = sessionID
	m.Timestamp = time.UnixMilli(ts).UTC()
	m.Key = key
	m.Value = value
	m.Headers = decodeHeaders(headers.String)
	m.DecodeError = decodeErr.String
	return m, nil
}
