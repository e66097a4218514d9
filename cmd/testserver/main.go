// testserver starts a Gantry API server backed by an in-memory database,
// local storage and a stub sandbox runtime, for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	lvstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/seantiz/gantry/internal/api"
	"github.com/seantiz/gantry/internal/config"
	"github.com/seantiz/gantry/internal/contextvar"
	"github.com/seantiz/gantry/internal/engine"
	"github.com/seantiz/gantry/internal/model"
	"github.com/seantiz/gantry/internal/sandbox"
	"github.com/seantiz/gantry/internal/staging"
	"github.com/seantiz/gantry/internal/storage"
	"github.com/seantiz/gantry/internal/storage/local"
	"github.com/seantiz/gantry/internal/store"
)

// Names the E2E suite relies on.
const (
	gatewayID    = "gw-demo"
	groupID      = "grp-demo"
	resourceID   = "sr-demo"
	appID        = "shout"
	demoScope    = "demo"
	demoVariable = "greeting"
)

// stubRuntime stands in for a container engine. A container concatenates
// the files of its input mount, upper-cased, into result.txt in its output
// mount.
type stubRuntime struct {
	delay time.Duration

	mu    sync.Mutex
	binds map[string][]string
}

func (r *stubRuntime) Create(_ context.Context, spec sandbox.CreateSpec) (string, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binds[spec.Name] = spec.Binds
	return spec.Name, nil, nil
}

func (r *stubRuntime) hostDirs(id string) (in, out string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.binds[id]
	in, _, _ = strings.Cut(b[0], ":")
	out, _, _ = strings.Cut(b[1], ":")
	return in, out
}

func (r *stubRuntime) Start(_ context.Context, id string) error {
	in, out := r.hostDirs(id)
	entries, err := os.ReadDir(in)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)

	var buf bytes.Buffer
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(in, name))
		if err != nil {
			return err
		}
		buf.Write(bytes.ToUpper(data))
	}
	return os.WriteFile(filepath.Join(out, "result.txt"), buf.Bytes(), 0o644)
}

func (r *stubRuntime) Wait(ctx context.Context, _ string) (int, error) {
	select {
	case <-time.After(r.delay):
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *stubRuntime) Stop(context.Context, string) error { return nil }

func (r *stubRuntime) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.binds, id)
	return nil
}

func (r *stubRuntime) Logs(_ context.Context, id string, w io.Writer) error {
	_, err := fmt.Fprintf(w, "[%s] shouting inputs\n[%s] done\n", id, id)
	return err
}

// seed registers the demo gateway, application and one input entry, and
// points the demo context variable at it.
func seed(ctx context.Context, db *store.SQLStore, vars *contextvar.LevelStore, root string) error {
	if err := db.PutStorageResource(ctx, &model.StorageResource{
		ID: resourceID, HostName: "localhost", Protocols: []string{model.ProtocolLocal},
	}); err != nil {
		return err
	}
	if err := db.PutStoragePreference(ctx, &model.StoragePreference{
		GatewayID:              gatewayID,
		StorageResourceID:      resourceID,
		LoginUserName:          "demo",
		FileSystemRootLocation: filepath.Join(root, resourceID),
	}); err != nil {
		return err
	}
	if err := db.PutGroupResourceProfile(ctx, &model.GroupResourceProfile{ID: groupID, DefaultCredentialToken: "tok-demo"}); err != nil {
		return err
	}
	if err := db.PutSSHCredential(ctx, &model.SSHCredential{Token: "tok-demo", GatewayID: gatewayID}); err != nil {
		return err
	}
	if err := db.PutApplication(ctx, &model.Application{
		ID:         appID,
		Image:      "alpine:3",
		Command:    "cat /in/* | tr a-z A-Z > /out/result.txt",
		InputDir:   "/in",
		OutputDir:  "/out",
		Inputs:     []model.InputSpec{{ID: "in", Name: "input.txt", Required: true}},
		Outputs:    []model.OutputSpec{{ID: "result", Name: "result.txt", Required: true}},
		Parameters: []model.ParameterDecl{{Name: "TIMES", Type: "Integer"}},
	}); err != nil {
		return err
	}

	path := filepath.Join(root, resourceID, "seed", "input.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte("hello from gantry\n"), 0o644); err != nil {
		return err
	}
	uri, err := db.RegisterDataProduct(ctx, &model.DataProduct{
		GatewayID:   gatewayID,
		OwnerName:   "demo",
		ProductName: "input.txt",
		Type:        model.ProductTypeFile,
		Replicas: []model.ReplicaLocation{{
			StorageResourceID: resourceID,
			Name:              "input.txt",
			FilePath:          model.ReplicaURI{Scheme: model.ProtocolLocal, User: "demo", Host: "localhost", Path: path}.String(),
			Category:          model.ReplicaCategoryGatewayDataStore,
			Persistence:       model.PersistencePersistent,
		}},
	})
	if err != nil {
		return err
	}
	return vars.Scope(demoScope).Set(demoVariable, uri)
}

func main() {
	addr := ":8080"
	if v := os.Getenv("GANTRY_LISTEN_ADDR"); v != "" {
		addr = v
	}
	logger := config.NewLogger(os.Stdout, config.Load().LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := os.MkdirTemp("", "gantry-testserver-*")
	if err != nil {
		log.Fatalf("create work root: %v", err)
	}
	defer os.RemoveAll(root)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ldb, err := leveldb.Open(lvstorage.NewMemStorage(), nil)
	if err != nil {
		log.Fatalf("failed to open context store: %v", err)
	}
	vars := contextvar.New(ldb, 0)
	defer vars.Close()

	if err := seed(ctx, db, vars, root); err != nil {
		log.Fatalf("seed: %v", err)
	}

	protocols := storage.NewRegistry()
	protocols.Register(model.ProtocolLocal, local.Factory{})
	resolver := storage.NewResolver(db, db, protocols, logger)
	defer resolver.Close()

	rt := &stubRuntime{delay: 500 * time.Millisecond, binds: make(map[string][]string)}
	eng := engine.NewEngine(engine.Deps{
		Registry:  db,
		Recorder:  db,
		Fetcher:   staging.NewFetcher(resolver, logger),
		Runner:    sandbox.NewRunner(rt, logger),
		Stager:    staging.NewStager(resolver, db, logger),
		Variables: vars,
		WorkDir:   filepath.Join(root, "work"),
		Logger:    logger,
	})
	srv := api.NewServer(addr, db, eng, protocols, logger)

	logger.Info("testserver: starting", "addr", addr)
	err = srv.Run(ctx)
	eng.CancelAll()
	eng.Wait()
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
