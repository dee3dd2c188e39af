package inmemory

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"testing"

	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

func TestPutGetContent(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/a/b/c", []byte("hello")); err != nil {
		t.Fatalf("unexpected error writing content: %v", err)
	}

	p, err := d.GetContent(ctx, "/a/b/c")
	if err != nil {
		t.Fatalf("unexpected error reading content: %v", err)
	}
	if !bytes.Equal(p, []byte("hello")) {
		t.Fatalf("unexpected content: %q", p)
	}

	if _, err := d.GetContent(ctx, "/a/b/missing"); err == nil {
		t.Fatalf("expected PathNotFoundError")
	} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
		t.Fatalf("expected PathNotFoundError, got %T", err)
	}
}

func TestWriterAppendAndReader(t *testing.T) {
	ctx := context.Background()
	d := New()

	w, err := d.Writer(ctx, "/uploads/1/data", false)
	if err != nil {
		t.Fatalf("unexpected error opening writer: %v", err)
	}
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	w, err = d.Writer(ctx, "/uploads/1/data", true)
	if err != nil {
		t.Fatalf("unexpected error reopening writer: %v", err)
	}
	if w.Size() != 3 {
		t.Fatalf("expected resumed size 3, got %d", w.Size())
	}
	if _, err := w.Write([]byte("def")); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("unexpected error committing: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	rc, err := d.Reader(ctx, "/uploads/1/data", 2)
	if err != nil {
		t.Fatalf("unexpected error opening reader: %v", err)
	}
	defer rc.Close()
	p, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("unexpected error reading: %v", err)
	}
	if string(p) != "cdef" {
		t.Fatalf("unexpected content at offset 2: %q", p)
	}
}

func TestListAndStat(t *testing.T) {
	ctx := context.Background()
	d := New()

	for _, p := range []string{"/root/x/1", "/root/x/2", "/root/y"} {
		if err := d.PutContent(ctx, p, []byte(p)); err != nil {
			t.Fatalf("unexpected error writing %s: %v", p, err)
		}
	}

	children, err := d.List(ctx, "/root")
	if err != nil {
		t.Fatalf("unexpected error listing: %v", err)
	}
	if !reflect.DeepEqual(children, []string{"/root/x", "/root/y"}) {
		t.Fatalf("unexpected listing: %v", children)
	}

	fi, err := d.Stat(ctx, "/root/x")
	if err != nil {
		t.Fatalf("unexpected error stating dir: %v", err)
	}
	if !fi.IsDir() {
		t.Fatalf("expected directory")
	}

	fi, err = d.Stat(ctx, "/root/y")
	if err != nil {
		t.Fatalf("unexpected error stating file: %v", err)
	}
	if fi.IsDir() || fi.Size() != int64(len("/root/y")) {
		t.Fatalf("unexpected file info: dir=%v size=%d", fi.IsDir(), fi.Size())
	}
}

func TestMoveDelete(t *testing.T) {
	ctx := context.Background()
	d := New()

	if err := d.PutContent(ctx, "/src/data", []byte("payload")); err != nil {
		t.Fatalf("unexpected error writing: %v", err)
	}
	if err := d.Move(ctx, "/src/data", "/dst/data"); err != nil {
		t.Fatalf("unexpected error moving: %v", err)
	}
	if _, err := d.GetContent(ctx, "/src/data"); err == nil {
		t.Fatalf("expected source to be gone")
	}
	if _, err := d.GetContent(ctx, "/dst/data"); err != nil {
		t.Fatalf("unexpected error reading dest: %v", err)
	}

	if err := d.Delete(ctx, "/dst"); err != nil {
		t.Fatalf("unexpected error deleting: %v", err)
	}
	if err := d.Delete(ctx, "/dst"); err == nil {
		t.Fatalf("expected PathNotFoundError on double delete")
	}
}
