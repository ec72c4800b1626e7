package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/testutil"
)

func openTestSession(t *testing.T, f *serverFixture, body openSessionRequest) string {
	t.Helper()
	raw, _ := json.Marshal(body)
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(raw)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] == "" {
		t.Fatalf("missing session id: %v", resp)
	}
	return resp["id"]
}

func waitSessionTerminal(t *testing.T, f *serverFixture, id string) domain.SessionState {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", rec.Code)
		}
		var st domain.SessionState
		if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Status.Terminal() {
			return st
		}
		select {
		case <-deadline:
			t.Fatalf("session %s still %s", id, st.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestAPISessionLifecycle(t *testing.T) {
	f := buildServer(t)
	f.meta.Descriptor = testDescriptor("orders", 1, 0, 10)
	f.scriptFetcher(false, testutil.PollStep{Batch: messageBatch(0, 0, 10)})

	id := openTestSession(t, f, openSessionRequest{
		Profile:    "local",
		Topic:      "orders",
		Mode:       "HEAD_N",
		MaxPerPart: 10,
	})

	st := waitSessionTerminal(t, f, id)
	if st.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", st.Status, st.ErrDetail)
	}
	if st.CachedCount != 10 {
		t.Fatalf("expected 10 cached, got %d", st.CachedCount)
	}

	// List
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), id) {
		t.Fatalf("list missing session: %d %s", rec.Code, rec.Body.String())
	}

	// Close
	rec = f.do(httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", rec.Code)
	}
}

func TestAPIOpenSessionUnknownProfile(t *testing.T) {
	f := buildServer(t)
	raw, _ := json.Marshal(openSessionRequest{Profile: "nope", Topic: "orders", Mode: "ALL"})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(raw)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPIOpenSessionInvalidOffset(t *testing.T) {
	f := buildServer(t)
	f.meta.Descriptor = testDescriptor("orders", 1, 0, 500)

	raw, _ := json.Marshal(openSessionRequest{
		Profile: "local",
		Topic:   "orders",
		Mode:    "FROM_OFFSET",
		Offset:  10000,
	})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader(raw)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	// The failed session is still registered for inspection.
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["id"] == "" || resp["error"] == "" {
		t.Fatalf("expected id and error, got %v", resp)
	}

	st := waitSessionTerminal(t, f, resp["id"])
	if st.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", st.Status)
	}
}

func TestAPIPageMessages(t *testing.T) {
	f := buildServer(t)
	f.meta.Descriptor = testDescriptor("orders", 1, 0, 30)
	f.scriptFetcher(false, testutil.PollStep{Batch: messageBatch(0, 0, 30)})

	id := openTestSession(t, f, openSessionRequest{
		Profile:    "local",
		Topic:      "orders",
		Mode:       "HEAD_N",
		MaxPerPart: 30,
	})
	waitSessionTerminal(t, f, id)

	// Default order: newest offsets first.
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/messages?page_size=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page domain.Page
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Messages) != 5 || page.Messages[0].Offset != 29 {
		t.Fatalf("unexpected first page: %+v", page.Messages)
	}
	if page.NextCursor == "" {
		t.Fatalf("expected next cursor")
	}

	// Follow the cursor.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/messages?page_size=5&cursor="+page.NextCursor, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page2 domain.Page
	if err := json.NewDecoder(rec.Body).Decode(&page2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page2.Messages) != 5 || page2.Messages[0].Offset != 24 {
		t.Fatalf("unexpected second page: %+v", page2.Messages)
	}

	// Substring filter.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/messages?query=value-29", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var filtered domain.Page
	if err := json.NewDecoder(rec.Body).Decode(&filtered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(filtered.Messages) != 1 || filtered.Messages[0].Offset != 29 {
		t.Fatalf("unexpected filtered page: %+v", filtered.Messages)
	}

	// Count with filter.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/count?query=value-1-", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("unexpected count: %d %s", rec.Code, rec.Body.String())
	}

	// Bad cursor is a client error.
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/messages?cursor=notacursor", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAPICancelAndResume(t *testing.T) {
	f := buildServer(t)
	f.meta.Descriptor = testDescriptor("orders", 1, 0, 10)
	f.scriptFetcher(true, testutil.PollStep{Batch: messageBatch(0, 0, 5)})

	id := openTestSession(t, f, openSessionRequest{
		Profile: "local",
		Topic:   "orders",
		Mode:    "ALL",
	})

	// Resume while running conflicts.
	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/resume", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/cancel", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	st := waitSessionTerminal(t, f, id)
	if st.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", st.Status)
	}

	// Resume picks up after the cached offsets.
	f.scriptFetcher(false, testutil.PollStep{Batch: messageBatch(0, 5, 10)})
	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/resume", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAPIExportSession(t *testing.T) {
	f := buildServer(t)
	f.meta.Descriptor = testDescriptor("orders", 1, 0, 10)
	f.scriptFetcher(false, testutil.PollStep{Batch: messageBatch(0, 0, 10)})

	id := openTestSession(t, f, openSessionRequest{
		Profile:    "local",
		Topic:      "orders",
		Mode:       "HEAD_N",
		MaxPerPart: 10,
	})
	waitSessionTerminal(t, f, id)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("expected header + 10 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "partition,offset,timestamp") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
}
