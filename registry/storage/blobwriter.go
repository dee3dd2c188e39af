package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/internal/dcontext"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// blobWriter is used to control the various aspects of resumable blob
// uploads.
type blobWriter struct {
	ctx       context.Context
	blobStore *linkedBlobStore

	id        string
	startedAt time.Time
	digester  digest.Digester
	written   int64 // track the write count

	fileWriter storagedriver.FileWriter
	driver     storagedriver.StorageDriver
	path       string

	resumableDigestEnabled bool
	committed              bool
	released               bool
}

var _ dockerust.BlobWriter = &blobWriter{}

// ID returns the identifier for this upload.
func (bw *blobWriter) ID() string {
	return bw.id
}

func (bw *blobWriter) StartedAt() time.Time {
	return bw.startedAt
}

// Commit marks the upload as completed, returning a valid descriptor. The
// final size and digest are checked against the first descriptor provided.
func (bw *blobWriter) Commit(ctx context.Context, desc v1.Descriptor) (v1.Descriptor, error) {
	dcontext.GetLogger(ctx).Debug("(*blobWriter).Commit")

	if err := bw.fileWriter.Commit(ctx); err != nil {
		return v1.Descriptor{}, err
	}

	bw.Close()
	desc.Size = bw.Size()

	canonical, err := bw.validateBlob(ctx, desc)
	if err != nil {
		return v1.Descriptor{}, err
	}

	if err := bw.moveBlob(ctx, canonical); err != nil {
		return v1.Descriptor{}, err
	}

	if err := bw.blobStore.linkBlob(ctx, canonical, desc.Digest); err != nil {
		return v1.Descriptor{}, err
	}

	if err := bw.removeResources(ctx); err != nil {
		return v1.Descriptor{}, err
	}

	err = bw.blobStore.blobAccessController.SetDescriptor(ctx, canonical.Digest, canonical)
	if err != nil {
		return v1.Descriptor{}, err
	}

	bw.committed = true
	return canonical, nil
}

// Cancel the blob upload process, releasing any resources associated with
// the writer and canceling the operation.
func (bw *blobWriter) Cancel(ctx context.Context) error {
	dcontext.GetLogger(ctx).Debug("(*blobWriter).Cancel")
	if err := bw.fileWriter.Cancel(ctx); err != nil {
		return err
	}

	if err := bw.Close(); err != nil {
		dcontext.GetLogger(ctx).Errorf("error closing blobwriter: %s", err)
	}

	return bw.removeResources(ctx)
}

func (bw *blobWriter) Size() int64 {
	return bw.fileWriter.Size()
}

func (bw *blobWriter) Write(p []byte) (int, error) {
	n, err := io.MultiWriter(bw.fileWriter, bw.digester.Hash()).Write(p)
	bw.written += int64(n)

	return n, err
}

func (bw *blobWriter) ReadFrom(r io.Reader) (n int64, err error) {
	// Using a TeeReader instead of MultiWriter ensures Copy can still always
	// use an intermediate buffer when the underlying writer does not
	// implement ReaderFrom.
	tr := io.TeeReader(r, bw.digester.Hash())
	nn, err := io.Copy(bw.fileWriter, tr)
	bw.written += nn

	return nn, err
}

// Close releases this writer's claim on the session. The session remains in
// backend storage and may be resumed until it expires or is purged.
func (bw *blobWriter) Close() error {
	if bw.released {
		return nil
	}
	bw.released = true
	bw.blobStore.registry.uploads.release(bw.id)

	if bw.committed {
		return errors.New("blobwriter close after commit")
	}

	return bw.fileWriter.Close()
}

// restoreDigest rebuilds the digest state of a resumed session by replaying
// the data written so far through a fresh digester. When the backend holds a
// partial upload, this is the only way to pick up an incremental digest
// without trusting the client.
func (bw *blobWriter) restoreDigest(ctx context.Context) error {
	if !bw.resumableDigestEnabled {
		return errResumableDigestNotAvailable
	}

	size := bw.fileWriter.Size()
	if size == 0 {
		return nil
	}

	fr, err := newFileReader(ctx, bw.driver, bw.path, size)
	if err != nil {
		return err
	}
	defer fr.Close()

	n, err := io.Copy(bw.digester.Hash(), fr)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("short read restoring digest state: %d != %d", n, size)
	}

	bw.written = size
	return nil
}

// validateBlob checks the data against the digest, returning an error if it
// does not match. The canonical descriptor is returned.
func (bw *blobWriter) validateBlob(ctx context.Context, desc v1.Descriptor) (v1.Descriptor, error) {
	var (
		verified, fullHash bool
		canonical          digest.Digest
	)

	if desc.Digest == "" {
		// if no descriptors are provided, we have nothing to validate
		// against. We don't really want to support this for the registry.
		return v1.Descriptor{}, dockerust.ErrBlobInvalidDigest{
			Reason: fmt.Errorf("cannot validate against empty digest"),
		}
	}

	var size int64

	// Stat the on disk file
	if fi, err := bw.driver.Stat(ctx, bw.path); err != nil {
		switch err := err.(type) {
		case storagedriver.PathNotFoundError:
			// NOTE: We really don't care if the file is not actually present
			// for the reader. We now assume that the desc length is zero.
			desc.Size = 0
		default:
			// Any other error we want propagated up the stack.
			return v1.Descriptor{}, err
		}
	} else {
		if fi.IsDir() {
			return v1.Descriptor{}, fmt.Errorf("unexpected directory at upload location %q", bw.path)
		}

		size = fi.Size()
	}

	if desc.Size > 0 {
		if desc.Size != size {
			return v1.Descriptor{}, dockerust.ErrBlobInvalidLength
		}
	} else {
		// if provided 0 or negative length, we can assume caller doesn't know
		// or care about length.
		desc.Size = size
	}

	if err := desc.Digest.Validate(); err != nil {
		return v1.Descriptor{}, dockerust.ErrBlobInvalidDigest{
			Digest: desc.Digest,
			Reason: err,
		}
	}

	canonical = bw.digester.Digest()

	if canonical.Algorithm() == desc.Digest.Algorithm() {
		// Common case: the same algorithm was used for the incremental
		// digest, so the comparison is direct.
		verified = desc.Digest == canonical
	} else {
		// The client used a different algorithm than the canonical one. Hash
		// the stored upload data again with the requested algorithm.
		fullHash = true
	}

	if fullHash {
		digester := desc.Digest.Algorithm().Digester()

		digestVerifier := desc.Digest.Verifier()

		// Read the file from the backend driver and validate it.
		fr, err := newFileReader(ctx, bw.driver, bw.path, desc.Size)
		if err != nil {
			return v1.Descriptor{}, err
		}
		defer fr.Close()

		tr := io.TeeReader(fr, digester.Hash())

		if _, err := io.Copy(digestVerifier, tr); err != nil {
			return v1.Descriptor{}, err
		}

		canonical = digester.Digest()
		verified = digestVerifier.Verified()
	}

	if !verified {
		dcontext.GetLoggerWithFields(ctx,
			map[any]any{
				"canonical": canonical,
				"provided":  desc.Digest,
			}).Errorf("canonical digest does not match provided digest")
		return v1.Descriptor{}, dockerust.ErrBlobInvalidDigest{
			Digest: desc.Digest,
			Reason: fmt.Errorf("content does not match digest"),
		}
	}

	// update desc with canonical hash
	desc.Digest = canonical

	if desc.MediaType == "" {
		desc.MediaType = "application/octet-stream"
	}

	return desc, nil
}

// moveBlob moves the data into its final, hash-qualified destination,
// identified by dgst. The layer should be validated before commencing the
// move.
func (bw *blobWriter) moveBlob(ctx context.Context, desc v1.Descriptor) error {
	blobPath, err := pathFor(blobDataPathSpec{
		digest: desc.Digest,
	})
	if err != nil {
		return err
	}

	// Check for existence
	if _, err := bw.blobStore.driver.Stat(ctx, blobPath); err != nil {
		switch err := err.(type) {
		case storagedriver.PathNotFoundError:
			break // ensure that it doesn't exist.
		default:
			return err
		}
	} else {
		// If the path exists, we can assume that the content has already
		// been uploaded, since the blob storage is content-addressable.
		// While it may be corrupted, detection of such corruption belongs
		// elsewhere.
		return nil
	}

	// If no data was received, we may not actually have a file on disk. Check
	// the size here and write a zero-length file to blobPath if this is the
	// case. For the most part, this should only ever happen with zero-length
	// blobs.
	if _, err := bw.blobStore.driver.Stat(ctx, bw.path); err != nil {
		switch err := err.(type) {
		case storagedriver.PathNotFoundError:
			// This is slightly dangerous: if we verify above, get a hash,
			// then the underlying file is deleted, we risk moving a
			// zero-length blob into a nonzero-length blob location. To
			// prevent that, only allow this to happen for the digest of an
			// empty blob.
			if desc.Digest == digestSha256Empty {
				return bw.blobStore.driver.PutContent(ctx, blobPath, []byte{})
			}

			// We let this fail during the move below.
			dcontext.GetLoggerWithFields(ctx,
				map[any]any{
					"upload.id": bw.ID(),
					"digest":    desc.Digest,
				}).Warnf("attempted to move zero-length content with non-zero digest")
		default:
			return err // unrelated error
		}
	}

	return bw.blobStore.driver.Move(ctx, bw.path, blobPath)
}

// removeResources should clean up all resources associated with the upload
// instance. An error will be returned if the clean up cannot proceed. If the
// resources are already not present, no error will be returned.
func (bw *blobWriter) removeResources(ctx context.Context) error {
	dataPath, err := pathFor(uploadDataPathSpec{
		name: bw.blobStore.repository.Named(),
		id:   bw.id,
	})
	if err != nil {
		return err
	}

	// Resolve and delete the containing directory, which should include any
	// upload related files.
	dirPath := path.Dir(dataPath)
	if err := bw.blobStore.driver.Delete(ctx, dirPath); err != nil {
		switch err := err.(type) {
		case storagedriver.PathNotFoundError:
			break // already gone!
		default:
			// This should be uncommon enough such that returning an error
			// should be okay. At this point, the upload should be mostly
			// complete, but perhaps the backend became unaccessible.
			dcontext.GetLogger(ctx).Errorf("unable to delete layer upload resources %q: %v", dirPath, err)
			return err
		}
	}

	return nil
}

// digestSha256Empty is the canonical sha256 digest of empty data.
const digestSha256Empty = "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
