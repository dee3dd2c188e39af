package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"path"
	"reflect"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/registry/storage/cache/memory"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
	"github.com/dockerust/dockerust/registry/storage/driver/inmemory"
	"github.com/dockerust/dockerust/testutil"
)

// TestSimpleBlobUpload covers the blob upload process, exercising common
// error paths that might be seen during an upload.
func TestSimpleBlobUpload(t *testing.T) {
	randomDataReader, dgst, err := testutil.CreateRandomTarFile()
	if err != nil {
		t.Fatalf("error creating random reader: %v", err)
	}

	ctx := context.Background()
	imageName := "foo/bar"
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, BlobDescriptorCacheProvider(memory.NewInMemoryBlobDescriptorCacheProvider()), EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, imageName)
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	h := sha256.New()
	rd := io.TeeReader(randomDataReader, h)

	blobUpload, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting layer upload: %s", err)
	}

	// Cancel the upload then restart it
	if err := blobUpload.Cancel(ctx); err != nil {
		t.Fatalf("unexpected error during upload cancellation: %v", err)
	}

	// Do a resume, get unknown upload
	_, err = bs.Resume(ctx, blobUpload.ID())
	if err != dockerust.ErrBlobUploadUnknown {
		t.Fatalf("unexpected error resuming upload, should be unknown: %v", err)
	}

	// Restart!
	blobUpload, err = bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting layer upload: %s", err)
	}

	// Get the size of our random tarfile
	randomDataSize, err := seekerSize(randomDataReader)
	if err != nil {
		t.Fatalf("error getting seeker size of random data: %v", err)
	}

	nn, err := io.Copy(blobUpload, rd)
	if err != nil {
		t.Fatalf("unexpected error uploading layer data: %v", err)
	}

	if nn != randomDataSize {
		t.Fatalf("layer data write incomplete")
	}

	if blobUpload.Size() != nn {
		t.Fatalf("blobUpload not updated with correct offset: %v != %v", blobUpload.Size(), nn)
	}
	blobUpload.Close()

	// Do a resume, for good fun
	blobUpload, err = bs.Resume(ctx, blobUpload.ID())
	if err != nil {
		t.Fatalf("unexpected error resuming upload: %v", err)
	}

	sha256Digest := digest.NewDigest("sha256", h)
	desc, err := blobUpload.Commit(ctx, v1.Descriptor{Digest: dgst})
	if err != nil {
		t.Fatalf("unexpected error finishing layer upload: %v", err)
	}

	// After finishing an upload, it should no longer exist.
	if _, err := bs.Resume(ctx, blobUpload.ID()); err != dockerust.ErrBlobUploadUnknown {
		t.Fatalf("expected layer upload to be unknown, got %v", err)
	}

	// Test for existence.
	statDesc, err := bs.Stat(ctx, desc.Digest)
	if err != nil {
		t.Fatalf("unexpected error checking for existence: %v, %#v", err, bs)
	}

	if !reflect.DeepEqual(statDesc, desc) {
		t.Fatalf("descriptors not equal: %v != %v", statDesc, desc)
	}

	rc, err := bs.Open(ctx, desc.Digest)
	if err != nil {
		t.Fatalf("unexpected error opening blob for read: %v", err)
	}
	defer rc.Close()

	h.Reset()
	nn, err = io.Copy(h, rc)
	if err != nil {
		t.Fatalf("error reading layer: %v", err)
	}

	if nn != randomDataSize {
		t.Fatalf("incorrect read length")
	}

	if digest.NewDigest("sha256", h) != sha256Digest {
		t.Fatalf("unexpected digest from uploaded layer: %q != %q", digest.NewDigest("sha256", h), sha256Digest)
	}

	// Delete a blob
	err = bs.Delete(ctx, desc.Digest)
	if err != nil {
		t.Fatalf("unexpected error deleting blob: %v", err)
	}

	d, err := bs.Stat(ctx, desc.Digest)
	if err == nil {
		t.Fatalf("unexpected non-error stating deleted blob: %v", d)
	}

	switch err {
	case dockerust.ErrBlobUnknown:
		break
	default:
		t.Errorf("unexpected error type stat-ing deleted manifest: %#v", err)
	}

	_, err = bs.Open(ctx, desc.Digest)
	if err == nil {
		t.Fatalf("unexpected success opening deleted blob for read")
	}

	switch err {
	case dockerust.ErrBlobUnknown:
		break
	default:
		t.Errorf("unexpected error type getting deleted manifest: %#v", err)
	}

	// Re-upload the blob
	randomBlob, err := io.ReadAll(randomDataReader)
	if err != nil {
		t.Fatalf("error reading all of blob %s", err.Error())
	}
	expectedDigest := digest.FromBytes(randomBlob)
	simpleUpload(t, bs, randomBlob, expectedDigest)

	d, err = bs.Stat(ctx, expectedDigest)
	if err != nil {
		t.Errorf("unexpected error stat-ing blob")
	}
	if d.Digest != expectedDigest {
		t.Errorf("mismatching digest with restored blob")
	}

	_, err = bs.Open(ctx, expectedDigest)
	if err != nil {
		t.Errorf("unexpected error opening blob")
	}

	// Reuse state to test delete with a delete-disabled registry
	registry, err = NewRegistry(ctx, driver)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err = registry.Repository(ctx, imageName)
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs = repository.Blobs(ctx)
	err = bs.Delete(ctx, desc.Digest)
	if err == nil {
		t.Errorf("unexpected success deleting while disabled")
	}
}

// TestSimpleBlobRead just creates a simple blob file and ensures that basic
// open, read, seek, read works. More specific edge cases should be covered in
// other tests.
func TestSimpleBlobRead(t *testing.T) {
	ctx := context.Background()
	imageName := "foo/bar"
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, BlobDescriptorCacheProvider(memory.NewInMemoryBlobDescriptorCacheProvider()), EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, imageName)
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	randomLayerReader, dgst, err := testutil.CreateRandomTarFile()
	if err != nil {
		t.Fatalf("error creating random data: %v", err)
	}

	// Test for existence.
	_, err = bs.Stat(ctx, dgst)
	if err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected not found error when testing for existence: %v", err)
	}

	_, err = bs.Open(ctx, dgst)
	if err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected not found error when opening non-existent blob: %v", err)
	}

	randomLayerSize, err := seekerSize(randomLayerReader)
	if err != nil {
		t.Fatalf("error getting seeker size for random layer: %v", err)
	}

	descBefore := v1.Descriptor{Digest: dgst, MediaType: "application/octet-stream", Size: randomLayerSize}

	desc, err := addBlob(ctx, bs, descBefore, randomLayerReader)
	if err != nil {
		t.Fatalf("error adding blob to blobservice: %v", err)
	}

	if desc.Size != randomLayerSize {
		t.Fatalf("committed blob has incorrect length: %v != %v", desc.Size, randomLayerSize)
	}

	rc, err := bs.Open(ctx, desc.Digest) // note that we are opening with original digest.
	if err != nil {
		t.Fatalf("error opening blob with %v: %v", dgst, err)
	}
	defer rc.Close()

	// Now check the sha digest and ensure its the same
	h := sha256.New()
	nn, err := io.Copy(h, rc)
	if err != nil {
		t.Fatalf("unexpected error copying to hash: %v", err)
	}

	if nn != randomLayerSize {
		t.Fatalf("stored incorrect number of bytes in blob: %d != %d", nn, randomLayerSize)
	}

	sha256Digest := digest.NewDigest("sha256", h)
	if sha256Digest != desc.Digest {
		t.Fatalf("fetched digest does not match: %q != %q", sha256Digest, desc.Digest)
	}

	// Now seek back the blob, read the whole thing and check against randomLayerData
	offset, err := rc.Seek(0, io.SeekStart)
	if err != nil {
		t.Fatalf("error seeking blob: %v", err)
	}

	if offset != 0 {
		t.Fatalf("seek failed: expected 0 offset, got %d", offset)
	}

	p, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("error reading all of blob: %v", err)
	}

	if len(p) != int(randomLayerSize) {
		t.Fatalf("blob data read has different length: %v != %v", len(p), randomLayerSize)
	}

	// Reset the randomLayerReader and read back the buffer
	_, err = randomLayerReader.Seek(0, io.SeekStart)
	if err != nil {
		t.Fatalf("error resetting layer reader: %v", err)
	}

	randomLayerData, err := io.ReadAll(randomLayerReader)
	if err != nil {
		t.Fatalf("random layer read failed: %v", err)
	}

	if !bytes.Equal(p, randomLayerData) {
		t.Fatalf("layer data not equal")
	}
}

// TestBlobUploadCommitInvalidDigest verifies that committing against a digest
// that does not match the written content fails and leaves no blob behind.
func TestBlobUploadCommitInvalidDigest(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, "foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	content := []byte("a layer of no particular significance")
	bogus := digest.FromString("something else entirely")

	wr, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}

	if _, err := io.Copy(wr, bytes.NewReader(content)); err != nil {
		t.Fatalf("error writing upload data: %v", err)
	}

	_, err = wr.Commit(ctx, v1.Descriptor{Digest: bogus})
	var digestErr dockerust.ErrBlobInvalidDigest
	if !errors.As(err, &digestErr) {
		t.Fatalf("expected digest mismatch error, got %v", err)
	}

	// Neither the provided nor the actual digest should resolve.
	if _, err := bs.Stat(ctx, bogus); err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected unknown blob for bogus digest, got %v", err)
	}
	if _, err := bs.Stat(ctx, digest.FromBytes(content)); err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected unknown blob for actual digest, got %v", err)
	}
}

// TestBlobUploadSessionBusy verifies that only a single writer may hold an
// upload session at a time.
func TestBlobUploadSessionBusy(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, "foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	wr, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}

	content := []byte("partial chunk of data")
	if _, err := wr.Write(content); err != nil {
		t.Fatalf("error writing chunk: %v", err)
	}

	// A second writer cannot claim the session while it is held.
	if _, err := bs.Resume(ctx, wr.ID()); err != dockerust.ErrBlobUploadBusy {
		t.Fatalf("expected busy error resuming held session, got %v", err)
	}

	if err := wr.Close(); err != nil {
		t.Fatalf("unexpected error closing writer: %v", err)
	}

	// Once released, the session can be resumed and the digest state is
	// rebuilt from the stored data.
	wr, err = bs.Resume(ctx, wr.ID())
	if err != nil {
		t.Fatalf("unexpected error resuming released session: %v", err)
	}

	if wr.Size() != int64(len(content)) {
		t.Fatalf("resumed session has wrong size: %d != %d", wr.Size(), len(content))
	}

	rest := []byte(" and the remainder")
	if _, err := wr.Write(rest); err != nil {
		t.Fatalf("error writing remainder: %v", err)
	}

	full := append(append([]byte{}, content...), rest...)
	desc, err := wr.Commit(ctx, v1.Descriptor{Digest: digest.FromBytes(full)})
	if err != nil {
		t.Fatalf("unexpected error committing resumed upload: %v", err)
	}

	if desc.Size != int64(len(full)) {
		t.Fatalf("committed blob has wrong size: %d != %d", desc.Size, len(full))
	}
}

// TestBlobUploadSessionExpiry verifies that sessions older than the
// registry's expiry window cannot be resumed.
func TestBlobUploadSessionExpiry(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, EnableDelete, UploadSessionExpiry(time.Millisecond))
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, "foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	wr, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}
	id := wr.ID()

	if _, err := wr.Write([]byte("doomed")); err != nil {
		t.Fatalf("error writing chunk: %v", err)
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("unexpected error closing writer: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if _, err := bs.Resume(ctx, id); err != dockerust.ErrBlobUploadExpired {
		t.Fatalf("expected expired error resuming stale session, got %v", err)
	}
}

// TestLayerUploadZeroLength uploads zero-length
func TestLayerUploadZeroLength(t *testing.T) {
	ctx := context.Background()
	imageName := "foo/bar"
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, BlobDescriptorCacheProvider(memory.NewInMemoryBlobDescriptorCacheProvider()), EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, imageName)
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	simpleUpload(t, bs, []byte{}, digest.FromBytes([]byte{}))
}

// TestBlobDeduplication checks that uploading the same content to two
// repositories stores the data once while linking it into each.
func TestBlobDeduplication(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}

	content := []byte("shared layer content")
	dgst := digest.FromBytes(content)

	for _, name := range []string{"foo/bar", "baz/qux"} {
		repository, err := registry.Repository(ctx, name)
		if err != nil {
			t.Fatalf("unexpected error getting repo: %v", err)
		}
		simpleUpload(t, repository.Blobs(ctx), content, dgst)
	}

	blobPath, err := pathFor(blobDataPathSpec{digest: dgst})
	if err != nil {
		t.Fatalf("error building blob data path: %v", err)
	}
	if _, err := driver.Stat(ctx, blobPath); err != nil {
		t.Fatalf("expected blob data at %s: %v", blobPath, err)
	}

	for _, name := range []string{"foo/bar", "baz/qux"} {
		linkPath, err := pathFor(layerLinkPathSpec{name: name, digest: dgst})
		if err != nil {
			t.Fatalf("error building layer link path: %v", err)
		}
		if _, err := driver.Stat(ctx, linkPath); err != nil {
			t.Fatalf("expected layer link at %s: %v", linkPath, err)
		}
	}
}

// TestBlobEnumeration checks whether enumeration of repository and registry
// blobs returns proper results.
func TestBlobEnumeration(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	reg, err := NewRegistry(ctx, driver, EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := reg.Repository(ctx, "foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	expected := map[digest.Digest]struct{}{}
	for i := 0; i < 3; i++ {
		dgst := uploadRandomLayer(t, ctx, bs)
		expected[dgst] = struct{}{}
	}

	found := map[digest.Digest]struct{}{}
	err = bs.Enumerate(ctx, func(dgst digest.Digest) error {
		found[dgst] = struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error enumerating repository blobs: %v", err)
	}
	if !reflect.DeepEqual(found, expected) {
		t.Fatalf("repository enumeration mismatch: %v != %v", found, expected)
	}

	found = map[digest.Digest]struct{}{}
	err = reg.Blobs().Enumerate(ctx, func(dgst digest.Digest) error {
		found[dgst] = struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error enumerating registry blobs: %v", err)
	}
	if !reflect.DeepEqual(found, expected) {
		t.Fatalf("registry enumeration mismatch: %v != %v", found, expected)
	}
}

func simpleUpload(t *testing.T, bs dockerust.BlobIngester, blob []byte, expectedDigest digest.Digest) {
	ctx := context.Background()
	wr, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}

	nn, err := io.Copy(wr, bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("error copying into blob writer: %v", err)
	}

	if nn != int64(len(blob)) {
		t.Fatalf("unexpected number of bytes copied: %v != %v", nn, len(blob))
	}

	dgst, err := digest.FromReader(bytes.NewReader(blob))
	if err != nil {
		t.Fatalf("error getting digest: %v", err)
	}

	if dgst != expectedDigest {
		// sanity check on zero digest
		t.Fatalf("digest not as expected: %v != %v", dgst, expectedDigest)
	}

	desc, err := wr.Commit(ctx, v1.Descriptor{Digest: dgst})
	if err != nil {
		t.Fatalf("unexpected error committing write: %v", err)
	}

	if desc.Digest != dgst {
		t.Fatalf("unexpected digest: %v != %v", desc.Digest, dgst)
	}
}

// seekerSize seeks to the end of seeker, checks the size and returns it to
// the original state, returning the size. The state of the seeker should be
// treated as unknown if an error is returned.
func seekerSize(seeker io.ReadSeeker) (int64, error) {
	current, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	resumed, err := seeker.Seek(current, io.SeekStart)
	if err != nil {
		return 0, err
	}

	if resumed != current {
		return 0, fmt.Errorf("error returning seeker to original state, could not seek back to original location")
	}

	return end, nil
}

// addBlob simply consumes the reader and inserts into the blob service,
// returning a descriptor on success.
func addBlob(ctx context.Context, bs dockerust.BlobIngester, desc v1.Descriptor, rd io.Reader) (v1.Descriptor, error) {
	wr, err := bs.Create(ctx)
	if err != nil {
		return v1.Descriptor{}, err
	}
	defer wr.Cancel(ctx)

	if nn, err := io.Copy(wr, rd); err != nil {
		return v1.Descriptor{}, err
	} else if nn != desc.Size {
		return v1.Descriptor{}, fmt.Errorf("incorrect number of bytes copied: %v != %v", nn, desc.Size)
	}

	return wr.Commit(ctx, desc)
}

func createRandomData() (io.ReadSeeker, int64, error) {
	fileSize := mrand.Int63n(1<<20) + 1<<20

	randomData := make([]byte, fileSize)
	// Fill up the buffer with some random data.
	n, err := rand.Read(randomData)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fill buffer with random data: %v", err)
	}
	if n != len(randomData) {
		return nil, 0, fmt.Errorf("short read creating random reader: %v bytes != %v bytes", n, len(randomData))
	}

	return bytes.NewReader(randomData), fileSize, nil
}

func uploadRandomLayer(t *testing.T, ctx context.Context, bi dockerust.BlobIngester) digest.Digest {
	dr, size, err := createRandomData()
	if err != nil {
		t.Fatalf("failed to create random file: %v", err)
	}

	h := sha256.New()
	rd := io.TeeReader(dr, h)
	blobUpload, err := bi.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting layer upload: %s", err)
	}
	nn, err := io.Copy(blobUpload, rd)
	if err != nil {
		t.Fatalf("unexpected error uploading layer data: %v", err)
	}
	if nn != size {
		t.Fatalf("layer data write incomplete")
	}
	dgst := digest.NewDigest("sha256", h)
	_, err = blobUpload.Commit(ctx, v1.Descriptor{Digest: dgst})
	if err != nil {
		t.Fatalf("unexpected error finishing layer upload: %v", err)
	}
	return dgst
}

// checkUploadDirRemoved asserts that the session directory for an upload has
// been cleaned out of the backend.
func checkUploadDirRemoved(t *testing.T, ctx context.Context, driver storagedriver.StorageDriver, name, id string) {
	dataPath, err := pathFor(uploadDataPathSpec{name: name, id: id})
	if err != nil {
		t.Fatalf("error building upload data path: %v", err)
	}
	if _, err := driver.Stat(ctx, path.Dir(dataPath)); err == nil {
		t.Errorf("expected upload directory %s to be removed", path.Dir(dataPath))
	} else if _, ok := err.(storagedriver.PathNotFoundError); !ok {
		t.Errorf("unexpected error stating upload directory: %v", err)
	}
}

// TestBlobUploadCleanup exercises cancellation and commit cleanup of the
// session directory.
func TestBlobUploadCleanup(t *testing.T) {
	ctx := context.Background()
	driver := inmemory.New()
	registry, err := NewRegistry(ctx, driver, EnableDelete)
	if err != nil {
		t.Fatalf("error creating registry: %v", err)
	}
	repository, err := registry.Repository(ctx, "foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting repo: %v", err)
	}
	bs := repository.Blobs(ctx)

	// Cancel path
	wr, err := bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}
	id := wr.ID()
	if _, err := wr.Write([]byte("never mind")); err != nil {
		t.Fatalf("error writing chunk: %v", err)
	}
	if err := wr.Cancel(ctx); err != nil {
		t.Fatalf("unexpected error cancelling upload: %v", err)
	}
	checkUploadDirRemoved(t, ctx, driver, "foo/bar", id)

	// Commit path
	content := []byte("kept this time")
	wr, err = bs.Create(ctx)
	if err != nil {
		t.Fatalf("unexpected error starting upload: %v", err)
	}
	id = wr.ID()
	if _, err := wr.Write(content); err != nil {
		t.Fatalf("error writing chunk: %v", err)
	}
	if _, err := wr.Commit(ctx, v1.Descriptor{Digest: digest.FromBytes(content)}); err != nil {
		t.Fatalf("unexpected error committing upload: %v", err)
	}
	checkUploadDirRemoved(t, ctx, driver, "foo/bar", id)
}
