// Package inmemory provides a storagedriver.StorageDriver implementation
// backed by a process-local map. Intended solely for testing and
// single-process experimentation; every instance is an isolated store.
package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
	"github.com/dockerust/dockerust/registry/storage/driver/base"
	"github.com/dockerust/dockerust/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, inMemoryDriverFactory{})
}

// inMemoryDriverFactory implements the factory.StorageDriverFactory
// interface.
type inMemoryDriverFactory struct{}

func (inMemoryDriverFactory) Create(_ context.Context, _ map[string]interface{}) (storagedriver.StorageDriver, error) {
	return New(), nil
}

type entry struct {
	data []byte
	mod  time.Time
}

type driver struct {
	files map[string]*entry
	mutex sync.RWMutex
}

type baseEmbed struct {
	base.Base
}

// Driver is a storagedriver.StorageDriver implementation backed by a local
// map.
type Driver struct {
	baseEmbed
}

// New constructs a new Driver.
func New() *Driver {
	return &Driver{
		baseEmbed: baseEmbed{
			Base: base.Base{
				StorageDriver: &driver{
					files: make(map[string]*entry),
				},
			},
		},
	}
}

// Implement the storagedriver.StorageDriver interface.

func (d *driver) Name() string {
	return driverName
}

// GetContent retrieves the content stored at "path" as a []byte.
func (d *driver) GetContent(ctx context.Context, path string) ([]byte, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	e, ok := d.files[path]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}

	buf := make([]byte, len(e.data))
	copy(buf, e.data)
	return buf, nil
}

// PutContent stores the []byte content at a location designated by "path".
func (d *driver) PutContent(ctx context.Context, path string, contents []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	buf := make([]byte, len(contents))
	copy(buf, contents)
	d.files[path] = &entry{data: buf, mod: time.Now()}
	return nil
}

// Reader retrieves an io.ReadCloser for the content stored at "path" with a
// given byte offset.
func (d *driver) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if offset < 0 {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
	}

	e, ok := d.files[path]
	if !ok {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}

	if offset > int64(len(e.data)) {
		return nil, storagedriver.InvalidOffsetError{Path: path, Offset: offset}
	}

	buf := make([]byte, len(e.data))
	copy(buf, e.data)
	return io.NopCloser(bytes.NewReader(buf[offset:])), nil
}

// Writer returns a FileWriter which will store the content written to it at
// the location designated by "path".
func (d *driver) Writer(ctx context.Context, path string, append bool) (storagedriver.FileWriter, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var buf []byte
	if append {
		if e, ok := d.files[path]; ok {
			buf = make([]byte, len(e.data))
			copy(buf, e.data)
		}
	}
	d.files[path] = &entry{data: buf, mod: time.Now()}

	return &writer{
		d:    d,
		path: path,
		buf:  buf,
	}, nil
}

// Stat returns info about the provided path.
func (d *driver) Stat(ctx context.Context, path string) (storagedriver.FileInfo, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	if e, ok := d.files[path]; ok {
		return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
			Path:    path,
			Size:    int64(len(e.data)),
			ModTime: e.mod,
		}}, nil
	}

	// A path is a directory if any file lives beneath it.
	prefix := strings.TrimSuffix(path, "/") + "/"
	if path == "/" {
		prefix = "/"
	}
	var mod time.Time
	found := false
	for p, e := range d.files {
		if strings.HasPrefix(p, prefix) {
			found = true
			if e.mod.After(mod) {
				mod = e.mod
			}
		}
	}
	if !found {
		return nil, storagedriver.PathNotFoundError{Path: path}
	}

	return storagedriver.FileInfoInternal{FileInfoFields: storagedriver.FileInfoFields{
		Path:    path,
		IsDir:   true,
		ModTime: mod,
	}}, nil
}

// List returns a list of the objects that are direct descendants of the
// given path.
func (d *driver) List(ctx context.Context, path string) ([]string, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	prefix := strings.TrimSuffix(path, "/") + "/"
	if path == "/" {
		prefix = "/"
	}

	children := make(map[string]struct{})
	for p := range d.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i]
		}
		children[prefix+rest] = struct{}{}
	}

	if len(children) == 0 && path != "/" {
		if _, ok := d.files[strings.TrimSuffix(path, "/")]; !ok {
			return nil, storagedriver.PathNotFoundError{Path: path}
		}
	}

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Move moves an object stored at sourcePath to destPath, removing the
// original object.
func (d *driver) Move(ctx context.Context, sourcePath string, destPath string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if e, ok := d.files[sourcePath]; ok {
		delete(d.files, sourcePath)
		d.files[destPath] = e
		return nil
	}

	// Directory move: rename every key under the source prefix.
	srcPrefix := strings.TrimSuffix(sourcePath, "/") + "/"
	dstPrefix := strings.TrimSuffix(destPath, "/") + "/"
	moved := false
	for p, e := range d.files {
		if strings.HasPrefix(p, srcPrefix) {
			delete(d.files, p)
			d.files[dstPrefix+strings.TrimPrefix(p, srcPrefix)] = e
			moved = true
		}
	}
	if !moved {
		return storagedriver.PathNotFoundError{Path: sourcePath}
	}
	return nil
}

// Delete recursively deletes all objects stored at "path" and its subpaths.
func (d *driver) Delete(ctx context.Context, path string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	deleted := false
	if _, ok := d.files[path]; ok {
		delete(d.files, path)
		deleted = true
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range d.files {
		if strings.HasPrefix(p, prefix) {
			delete(d.files, p)
			deleted = true
		}
	}

	if !deleted {
		return storagedriver.PathNotFoundError{Path: path}
	}
	return nil
}

// Walk traverses a filesystem defined within driver, starting from the
// given path, calling f on each file.
func (d *driver) Walk(ctx context.Context, path string, f storagedriver.WalkFn) error {
	return storagedriver.WalkFallback(ctx, d, path, f)
}

type writer struct {
	d         *driver
	path      string
	buf       []byte
	closed    bool
	committed bool
	cancelled bool
}

var _ storagedriver.FileWriter = &writer{}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("already closed")
	} else if w.committed {
		return 0, fmt.Errorf("already committed")
	} else if w.cancelled {
		return 0, fmt.Errorf("already cancelled")
	}

	w.buf = append(w.buf, p...)
	w.flush()
	return len(p), nil
}

func (w *writer) Size() int64 {
	return int64(len(w.buf))
}

func (w *writer) Close() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.closed = true
	w.flush()
	return nil
}

func (w *writer) Cancel(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("already closed")
	} else if w.committed {
		return fmt.Errorf("already committed")
	}
	w.cancelled = true

	w.d.mutex.Lock()
	defer w.d.mutex.Unlock()
	delete(w.d.files, w.path)
	return nil
}

func (w *writer) Commit(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("already closed")
	} else if w.committed {
		return fmt.Errorf("already committed")
	} else if w.cancelled {
		return fmt.Errorf("already cancelled")
	}
	w.committed = true
	w.flush()
	return nil
}

// flush publishes the writer's buffer so that readers observe all content
// written so far. Publishing on every write keeps resumed uploads readable
// across writer instances within the process.
func (w *writer) flush() {
	w.d.mutex.Lock()
	defer w.d.mutex.Unlock()

	buf := make([]byte, len(w.buf))
	copy(buf, w.buf)
	w.d.files[w.path] = &entry{data: buf, mod: time.Now()}
}
