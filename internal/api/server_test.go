package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/seantiz/gantry/internal/contextvar"
	"github.com/seantiz/gantry/internal/engine"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/sandbox"
	"github.com/seantiz/gantry/internal/staging"
	"github.com/seantiz/gantry/internal/storage"
	"github.com/seantiz/gantry/internal/storage/local"
	"github.com/seantiz/gantry/internal/store"
)

// gateRuntime is a container runtime whose containers exit when release is
// closed.
type gateRuntime struct {
	release chan struct{}
}

func (g *gateRuntime) Create(context.Context, sandbox.CreateSpec) (string, []string, error) {
	return "c-1", nil, nil
}
func (g *gateRuntime) Start(context.Context, string) error { return nil }
func (g *gateRuntime) Wait(ctx context.Context, _ string) (int, error) {
	select {
	case <-g.release:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
func (g *gateRuntime) Stop(context.Context, string) error   { return nil }
func (g *gateRuntime) Remove(context.Context, string) error { return nil }
func (g *gateRuntime) Logs(_ context.Context, _ string, w io.Writer) error {
	_, err := io.WriteString(w, "container says hi\n")
	return err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	g := &gateRuntime{release: make(chan struct{})}
	close(g.release)
	return newTestServerWithRuntime(t, g)
}

func newTestServerWithRuntime(t *testing.T, rt sandbox.Runtime) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	db, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("leveldb.Open: %v", err)
	}
	vars := contextvar.New(db, 0)
	t.Cleanup(func() { vars.Close() })

	if err := s.PutApplication(context.Background(), &model.Application{
		ID:         "echo",
		Image:      "alpine:3",
		Command:    "echo $COUNT",
		InputDir:   "/in",
		OutputDir:  "/out",
		Parameters: []model.ParameterDecl{{Name: "COUNT", Type: "Integer"}},
	}); err != nil {
		t.Fatalf("PutApplication: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	protocols := storage.NewRegistry()
	protocols.Register(model.ProtocolLocal, local.Factory{})
	resolver := storage.NewResolver(s, s, protocols, logger)

	eng := engine.NewEngine(engine.Deps{
		Registry:  s,
		Recorder:  s,
		Fetcher:   staging.NewFetcher(resolver, logger),
		Runner:    sandbox.NewRunner(rt, logger),
		Stager:    staging.NewStager(resolver, s, logger),
		Variables: vars,
		WorkDir:   t.TempDir(),
		Logger:    logger,
	})
	t.Cleanup(func() {
		eng.CancelAll()
		eng.Wait()
	})

	return NewServer(":0", s, eng, protocols, logger)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}
