package storage

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/dockerust/dockerust"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// defaultTagLookupConcurrency bounds how many tags are inspected in parallel
// during a reverse lookup.
const defaultTagLookupConcurrency = 64

var _ dockerust.TagService = &tagStore{}

// tagStore provides methods to manage manifest tags in a backend storage
// driver. Tags are stored as links under the repository's _manifests/tags
// directory, with a current link and an index of every revision the tag has
// ever pointed at.
type tagStore struct {
	repository       *repository
	blobStore        *blobStore
	concurrencyLimit int
}

// All returns all tags
func (ts *tagStore) All(ctx context.Context) ([]string, error) {
	pathSpec, err := pathFor(manifestTagsPathSpec{
		name: ts.repository.Named(),
	})
	if err != nil {
		return nil, err
	}

	entries, err := ts.blobStore.driver.List(ctx, pathSpec)
	if err != nil {
		switch err := err.(type) {
		case storagedriver.PathNotFoundError:
			// A missing tags directory only means the repository is unknown
			// when the repository directory itself is gone. Drivers drop
			// empty directories, so a repository that still holds layer
			// links or revisions simply has no tags.
			exists, eerr := ts.repositoryExists(ctx)
			if eerr != nil {
				return nil, eerr
			}
			if !exists {
				return nil, dockerust.ErrRepositoryUnknown{Name: ts.repository.Named()}
			}
			return []string{}, nil
		default:
			return nil, err
		}
	}

	tags := make([]string, 0, len(entries))
	for _, entry := range entries {
		_, filename := path.Split(entry)
		tags = append(tags, filename)
	}

	sort.Strings(tags)

	return tags, nil
}

// repositoryExists reports whether the repository directory is present in
// backend storage.
func (ts *tagStore) repositoryExists(ctx context.Context) (bool, error) {
	repoPath, err := pathFor(repositoryPathSpec{name: ts.repository.Named()})
	if err != nil {
		return false, err
	}

	if _, err := ts.blobStore.driver.List(ctx, repoPath); err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Tag tags the digest with the given tag, updating the store to point at
// the current tag. The digest must point to a manifest.
func (ts *tagStore) Tag(ctx context.Context, tag string, desc v1.Descriptor) error {
	currentPath, err := pathFor(manifestTagCurrentPathSpec{
		name: ts.repository.Named(),
		tag:  tag,
	})
	if err != nil {
		return err
	}

	lbs := ts.linkedBlobStore(ctx, tag)

	// Link into the index
	if err := lbs.linkBlob(ctx, desc); err != nil {
		return err
	}

	// Overwrite the current link
	return ts.blobStore.link(ctx, currentPath, desc.Digest)
}

// resolve the current revision for name and tag.
func (ts *tagStore) Get(ctx context.Context, tag string) (v1.Descriptor, error) {
	currentPath, err := pathFor(manifestTagCurrentPathSpec{
		name: ts.repository.Named(),
		tag:  tag,
	})
	if err != nil {
		return v1.Descriptor{}, err
	}

	revision, err := ts.blobStore.readlink(ctx, currentPath)
	if err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			return v1.Descriptor{}, dockerust.ErrTagUnknown{Tag: tag}
		}

		return v1.Descriptor{}, err
	}

	return v1.Descriptor{Digest: revision}, nil
}

// Untag removes the tag association
func (ts *tagStore) Untag(ctx context.Context, tag string) error {
	tagPath, err := pathFor(manifestTagPathSpec{
		name: ts.repository.Named(),
		tag:  tag,
	})
	if err != nil {
		return err
	}

	if err := ts.blobStore.driver.Delete(ctx, tagPath); err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			return dockerust.ErrTagUnknown{Tag: tag}
		}
		return err
	}

	return nil
}

// linkedBlobStore returns the linkedBlobStore for the named tag, allowing one
// to index manifest blobs by tag name. While the tag store doesn't map
// precisely to the linked blob store, using this ensures the links are
// managed via the same code path.
func (ts *tagStore) linkedBlobStore(ctx context.Context, tag string) *linkedBlobStore {
	return &linkedBlobStore{
		blobStore:  ts.blobStore,
		registry:   ts.repository.registry,
		repository: ts.repository,
		ctx:        ctx,
		linkPathFns: []linkPathFunc{func(name string, dgst digest.Digest) (string, error) {
			return pathFor(manifestTagIndexEntryLinkPathSpec{
				name:     name,
				tag:      tag,
				revision: dgst,
			})
		}},
	}
}

// Lookup recovers a list of tags which refer to this digest. When a manifest
// is deleted by digest, the tags that pointed at it must be located so they
// can be removed as well.
func (ts *tagStore) Lookup(ctx context.Context, desc v1.Descriptor) ([]string, error) {
	allTags, err := ts.All(ctx)
	switch err.(type) {
	case dockerust.ErrRepositoryUnknown:
		// This tag store has been initialized but not yet populated
		break
	case nil:
		break
	default:
		return nil, err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(ts.concurrencyLimit)

	var (
		mu   sync.Mutex
		tags []string
	)
	for _, tag := range allTags {
		tag := tag
		group.Go(func() error {
			tagLinkPathSpec := manifestTagCurrentPathSpec{
				name: ts.repository.Named(),
				tag:  tag,
			}

			tagLinkPath, _ := pathFor(tagLinkPathSpec)
			tagDigest, err := ts.blobStore.readlink(ctx, tagLinkPath)
			if err != nil {
				switch err.(type) {
				// PathNotFoundError shouldn't count as an error
				case storagedriver.PathNotFoundError:
					return nil
				}
				return err
			}

			if tagDigest == desc.Digest {
				mu.Lock()
				tags = append(tags, tag)
				mu.Unlock()
			}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(tags)

	return tags, nil
}

// ManifestDigests returns the set of digests referenced by the given tag,
// i.e. the current target plus any historical targets still present in the
// tag's index.
func (ts *tagStore) ManifestDigests(ctx context.Context, tag string) ([]digest.Digest, error) {
	tagLinkPath := func(name string, dgst digest.Digest) (string, error) {
		return pathFor(manifestTagIndexEntryLinkPathSpec{
			name:     name,
			tag:      tag,
			revision: dgst,
		})
	}
	lbs := &linkedBlobStore{
		blobStore: ts.blobStore,
		blobAccessController: &linkedBlobStatter{
			blobStore:   ts.blobStore,
			repository:  ts.repository,
			linkPathFns: []linkPathFunc{tagLinkPath},
		},
		registry:   ts.repository.registry,
		repository: ts.repository,
		ctx:        ctx,
		linkPathFns: []linkPathFunc{
			tagLinkPath,
		},
		linkDirectoryPathSpec: manifestTagIndexPathSpec{
			name: ts.repository.Named(),
			tag:  tag,
		},
	}
	var dgsts []digest.Digest
	err := lbs.Enumerate(ctx, func(dgst digest.Digest) error {
		dgsts = append(dgsts, dgst)
		return nil
	})
	if err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			// The tag index was never populated.
			return nil, nil
		}
		return nil, err
	}
	return dgsts, nil
}
