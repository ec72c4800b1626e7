package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miguelbaldi/krust/internal/application"
	"github.com/miguelbaldi/krust/internal/config"
	"github.com/miguelbaldi/krust/internal/domain"
	"github.com/miguelbaldi/krust/internal/infrastructure/cache"
	"github.com/miguelbaldi/krust/internal/registry"
	"github.com/miguelbaldi/krust/internal/testutil"
	"github.com/miguelbaldi/krust/internal/utils"
)

// serverFixture bundles the server with the fakes behind it so tests can
// steer broker behavior.
type serverFixture struct {
	server  *Server
	router  chi.Router
	meta    *testutil.FakeMetadataClient
	factory *testutil.FakeClientFactory
	store   *cache.Store
}

func buildServer(t *testing.T) *serverFixture {
	t.Helper()
	utils.InitLogger()

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	meta := testutil.NewFakeMetadataClient()
	factory := &testutil.FakeClientFactory{
		Meta:    meta,
		Factory: &testutil.FakeFetcherFactory{Fetcher: testutil.NewFakeFetcher(false)},
	}

	repo := &testutil.FakeProfileRepository{}
	_ = repo.Save(config.ConnectionProfile{Name: "local", Brokers: []string{"localhost:9092"}})

	engine := config.DefaultEngineConfig()
	engine.PollTimeout = 50 * time.Millisecond

	profileSvc := application.NewProfileService(repo, factory)
	sessionSvc := application.NewSessionService(repo, store, factory, registry.New(), engine)
	srv := New(profileSvc, sessionSvc)

	return &serverFixture{
		server:  srv,
		router:  srv.routes(),
		meta:    meta,
		factory: factory,
		store:   store,
	}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// scriptFetcher installs a fetcher replaying the given batches.
func (f *serverFixture) scriptFetcher(open bool, steps ...testutil.PollStep) {
	f.factory.Factory = &testutil.FakeFetcherFactory{Fetcher: testutil.NewFakeFetcher(open, steps...)}
}

func testDescriptor(topic string, partitions int, low, high int64) domain.TopicDescriptor {
	return testutil.Descriptor(topic, partitions, low, high)
}

func messageBatch(partition int32, from, to int64) []domain.CachedMessage {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var out []domain.CachedMessage
	for off := from; off < to; off++ {
		out = append(out, testutil.Message(partition, off, base.Add(time.Duration(off)*time.Second)))
	}
	return out
}
