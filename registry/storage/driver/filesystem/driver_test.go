package filesystem

import (
	"bytes"
	"context"
	"io"
	"testing"

	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	return New(DriverParameters{RootDirectory: t.TempDir()})
}

func TestFromParameters(t *testing.T) {
	d, err := FromParameters(map[string]interface{}{"rootdirectory": "/somewhere"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d == nil {
		t.Fatal("expected driver")
	}

	if _, err := FromParameters(map[string]interface{}{"rootdirectory": 42}); err == nil {
		t.Fatal("expected error for non-string rootdirectory")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	content := []byte("some layer bytes")
	if err := d.PutContent(ctx, "/blobs/sha256/ab/abcd/data", content); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}

	p, err := d.GetContent(ctx, "/blobs/sha256/ab/abcd/data")
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if !bytes.Equal(p, content) {
		t.Fatalf("read back %q, wrote %q", p, content)
	}

	fi, err := d.Stat(ctx, "/blobs/sha256/ab/abcd/data")
	if err != nil {
		t.Fatalf("unexpected error stating: %v", err)
	}
	if fi.Size() != int64(len(content)) {
		t.Fatalf("unexpected size: %d", fi.Size())
	}
}

func TestWriterResume(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	w, err := d.Writer(ctx, "/uploads/abc/data", false)
	if err != nil {
		t.Fatalf("unexpected error opening writer: %v", err)
	}
	if _, err := w.Write([]byte("first-")); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	w, err = d.Writer(ctx, "/uploads/abc/data", true)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	if w.Size() != int64(len("first-")) {
		t.Fatalf("unexpected resumed size: %d", w.Size())
	}
	if _, err := w.Write([]byte("second")); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("unexpected error committing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	rc, err := d.Reader(ctx, "/uploads/abc/data", 0)
	if err != nil {
		t.Fatalf("unexpected error opening reader: %v", err)
	}
	defer rc.Close()
	p, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if string(p) != "first-second" {
		t.Fatalf("unexpected content: %q", p)
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	d := newTestDriver(t)

	if _, err := d.GetContent(ctx, "/no/such/path"); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
		t.Fatalf("expected PathNotFoundError, got %T: %v", err, err)
	}

	if err := d.Delete(ctx, "/no/such/path"); err == nil {
		t.Fatal("expected error")
	} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
		t.Fatalf("expected PathNotFoundError, got %T: %v", err, err)
	}
}
