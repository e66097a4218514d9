package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadAndDownload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a := &Adaptor{}

	src := filepath.Join(dir, "src.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	remoteDir := filepath.Join(dir, "remote", "tasks", "t1")
	if err := a.CreateDirectory(ctx, remoteDir, true); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	remote := filepath.Join(remoteDir, "out.txt")
	if err := a.Upload(ctx, src, remote); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	back := filepath.Join(dir, "back.txt")
	if err := a.Download(ctx, remote, back); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(back)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("content = %q, want %q", got, "payload")
	}

	leftovers, _ := filepath.Glob(filepath.Join(remoteDir, ".gantry-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestDownloadMissing(t *testing.T) {
	dir := t.TempDir()
	a := &Adaptor{}

	err := a.Download(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	if err == nil {
		t.Fatal("Download of missing file succeeded")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "dst")); !os.IsNotExist(statErr) {
		t.Errorf("destination exists after failed download")
	}
}

func TestCreateDirectoryNonRecursive(t *testing.T) {
	dir := t.TempDir()
	a := &Adaptor{}
	ctx := context.Background()

	if err := a.CreateDirectory(ctx, filepath.Join(dir, "a", "b"), false); err == nil {
		t.Error("non-recursive create with missing parent succeeded")
	}
	if err := a.CreateDirectory(ctx, filepath.Join(dir, "a"), false); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if err := a.CreateDirectory(ctx, filepath.Join(dir, "a"), false); err != nil {
		t.Errorf("CreateDirectory on existing dir: %v", err)
	}
}

func TestCancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &Adaptor{}
	if err := a.Upload(ctx, src, filepath.Join(dir, "dst")); err == nil {
		t.Error("Upload with cancelled context succeeded")
	}
}
