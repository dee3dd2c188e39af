package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/sync/errgroup"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/internal/dcontext"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// GCOpts contains options for garbage collector
type GCOpts struct {
	// DryRun walks the mark and sweep phases without deleting anything.
	DryRun bool

	// RemoveUntagged also deletes manifests that no tag points at, freeing
	// the blobs they referenced exclusively.
	RemoveUntagged bool

	// SweepConcurrency bounds the number of parallel blob deletions during
	// the sweep stage. Zero or negative means a sensible default.
	SweepConcurrency int
}

const defaultSweepConcurrency = 8

// ManifestDel contains manifest structure which will be deleted
type ManifestDel struct {
	Name   string
	Digest digest.Digest
	Tags   []string
}

// MarkAndSweep performs a mark and sweep of registry data. The mark stage
// walks every repository and records each blob reachable through a manifest
// revision. The sweep stage deletes every blob the mark stage did not record,
// re-checking reachability immediately before each delete so that content
// uploaded while the collector runs is never removed.
func MarkAndSweep(ctx context.Context, storageDriver storagedriver.StorageDriver, registry dockerust.Namespace, opts GCOpts) error {
	repositoryEnumerator, ok := registry.(dockerust.RepositoryEnumerator)
	if !ok {
		return fmt.Errorf("unable to convert Namespace to RepositoryEnumerator")
	}

	// mark
	markSet := make(map[digest.Digest]struct{})
	manifestArr := make([]ManifestDel, 0)
	err := repositoryEnumerator.Enumerate(ctx, func(repoName string) error {
		dcontext.GetLogger(ctx).Debugf("marking repository %s", repoName)

		var err error
		repository, err := registry.Repository(ctx, repoName)
		if err != nil {
			return err
		}

		manifestService, err := repository.Manifests(ctx)
		if err != nil {
			return err
		}

		manifestEnumerator, ok := manifestService.(dockerust.ManifestEnumerator)
		if !ok {
			return fmt.Errorf("unable to convert ManifestService into ManifestEnumerator")
		}

		err = manifestEnumerator.Enumerate(ctx, func(dgst digest.Digest) error {
			if opts.RemoveUntagged {
				// fetch all tags where this manifest is the latest one
				tags, err := repository.Tags(ctx).Lookup(ctx, v1.Descriptor{Digest: dgst})
				if err != nil {
					return fmt.Errorf("failed to retrieve tags for digest %v: %v", dgst, err)
				}
				if len(tags) == 0 {
					// fetch all tags from repository
					// all of these tags could contain manifest in history
					// which means that we need check (and delete) those
					// references when deleting manifest
					allTags, err := repository.Tags(ctx).All(ctx)
					if err != nil {
						if _, ok := err.(dockerust.ErrRepositoryUnknown); !ok {
							return fmt.Errorf("failed to retrieve tags %v", err)
						}
					}
					manifestArr = append(manifestArr, ManifestDel{Name: repoName, Digest: dgst, Tags: allTags})
					return nil
				}
			}
			// Mark the manifest's blob
			dcontext.GetLogger(ctx).Debugf("marking manifest %s@%s", repoName, dgst)
			markSet[dgst] = struct{}{}

			return markManifestReferences(ctx, dgst, manifestService, func(d digest.Digest) bool {
				_, marked := markSet[d]
				if !marked {
					markSet[d] = struct{}{}
					dcontext.GetLogger(ctx).Debugf("marking blob %s", d)
				}
				return marked
			})
		})

		// In certain situations such as unfinished uploads, deleting all
		// tags in S3 or removing the _manifests folder manually, this
		// error may be of type PathNotFound.
		//
		// In these cases we can continue marking other manifests safely.
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil
		}

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark: %v", err)
	}

	manifestArr = unmarkReferencedManifest(manifestArr, markSet)

	// sweep
	vacuum := NewVacuum(storageDriver)
	if !opts.DryRun {
		for _, obj := range manifestArr {
			// Remove the tag index entries that reference this manifest so
			// the tag history cannot resurrect it.
			var linkPathSpecs []pathSpec
			for _, tag := range obj.Tags {
				linkPathSpecs = append(linkPathSpecs, manifestTagIndexEntryPathSpec{
					name: obj.Name, tag: tag, revision: obj.Digest,
				})
			}

			err = vacuum.RemoveManifest(ctx, obj.Name, obj.Digest, linkPathSpecs)
			if err != nil {
				return fmt.Errorf("failed to delete manifest %s: %v", obj.Digest, err)
			}
		}
	}

	blobService := registry.Blobs()
	deleteSet := make(map[digest.Digest]struct{})
	err = blobService.Enumerate(ctx, func(dgst digest.Digest) error {
		// check if digest is in markSet. If not, delete it!
		if _, ok := markSet[dgst]; !ok {
			deleteSet[dgst] = struct{}{}
		}
		return nil
	})
	if err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			// No blobs stored yet; nothing to sweep.
		default:
			return fmt.Errorf("error enumerating blobs: %v", err)
		}
	}

	dcontext.GetLogger(ctx).Infof("%d blobs marked, %d blobs and %d manifests eligible for deletion", len(markSet), len(deleteSet), len(manifestArr))

	concurrency := opts.SweepConcurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}

	// Manifests scheduled for removal must not re-mark their referenced
	// blobs during the re-check, in particular during a dry run where they
	// are still present in storage.
	pending := make(map[digest.Digest]struct{}, len(manifestArr))
	for _, obj := range manifestArr {
		pending[obj.Digest] = struct{}{}
	}

	sw := &sweeper{
		registry:   registry,
		enumerator: repositoryEnumerator,
		markSet:    markSet,
		pending:    pending,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for dgst := range deleteSet {
		dgst := dgst
		group.Go(func() error {
			// Re-check reachability immediately before deleting. A blob
			// referenced by a manifest committed after the mark snapshot
			// must survive the sweep.
			reachable, err := sw.reachable(gctx, dgst)
			if err != nil {
				return fmt.Errorf("failed to re-check blob %s: %v", dgst, err)
			}
			if reachable {
				dcontext.GetLogger(gctx).Infof("blob %s became reachable since mark, skipping", dgst)
				return nil
			}

			dcontext.GetLogger(gctx).Infof("blob eligible for deletion: %s", dgst)
			if opts.DryRun {
				return nil
			}

			if err := vacuum.RemoveBlob(gctx, dgst); err != nil {
				return fmt.Errorf("failed to delete blob %s: %v", dgst, err)
			}

			return nil
		})
	}

	return group.Wait()
}

// sweeper tracks the evolving mark set during the sweep stage. Blobs are only
// deleted after a re-check against manifests committed since the initial mark
// snapshot.
type sweeper struct {
	mu         sync.Mutex
	registry   dockerust.Namespace
	enumerator dockerust.RepositoryEnumerator
	markSet    map[digest.Digest]struct{}
	pending    map[digest.Digest]struct{}
}

// reachable reports whether dgst is reachable from any stored manifest. The
// mark set is refreshed with any manifest revisions that appeared after the
// initial mark, along with their transitive references.
func (sw *sweeper) reachable(ctx context.Context, dgst digest.Digest) (bool, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, ok := sw.markSet[dgst]; ok {
		return true, nil
	}

	err := sw.enumerator.Enumerate(ctx, func(repoName string) error {
		repository, err := sw.registry.Repository(ctx, repoName)
		if err != nil {
			return err
		}

		manifestService, err := repository.Manifests(ctx)
		if err != nil {
			return err
		}

		manifestEnumerator, ok := manifestService.(dockerust.ManifestEnumerator)
		if !ok {
			return fmt.Errorf("unable to convert ManifestService into ManifestEnumerator")
		}

		err = manifestEnumerator.Enumerate(ctx, func(revision digest.Digest) error {
			if _, marked := sw.markSet[revision]; marked {
				return nil
			}
			if _, doomed := sw.pending[revision]; doomed {
				return nil
			}

			// A manifest committed since the mark snapshot. Mark it and
			// everything it references.
			sw.markSet[revision] = struct{}{}
			return markManifestReferences(ctx, revision, manifestService, func(d digest.Digest) bool {
				_, marked := sw.markSet[d]
				if !marked {
					sw.markSet[d] = struct{}{}
				}
				return marked
			})
		})
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return nil
		}
		return err
	})
	if err != nil {
		if _, ok := err.(storagedriver.PathNotFoundError); ok {
			return false, nil
		}
		return false, err
	}

	_, ok := sw.markSet[dgst]
	return ok, nil
}

// unmarkReferencedManifest filters out manifest from deletion list if it is
// referenced by other manifests
func unmarkReferencedManifest(manifestArr []ManifestDel, markSet map[digest.Digest]struct{}) []ManifestDel {
	filtered := make([]ManifestDel, 0)
	for _, obj := range manifestArr {
		if _, ok := markSet[obj.Digest]; !ok {
			filtered = append(filtered, obj)
		}
	}
	return filtered
}

// markManifestReferences marks the manifest references
func markManifestReferences(ctx context.Context, dgst digest.Digest, manifestService dockerust.ManifestService, ingester func(digest.Digest) bool) error {
	manifest, err := manifestService.Get(ctx, dgst)
	if err != nil {
		return fmt.Errorf("failed to retrieve manifest for digest %v: %v", dgst, err)
	}

	descriptors := manifest.References()
	for _, descriptor := range descriptors {
		// do not visit references if already marked
		if ingester(descriptor.Digest) {
			continue
		}

		if ok, _ := manifestService.Exists(ctx, descriptor.Digest); ok {
			err := markManifestReferences(ctx, descriptor.Digest, manifestService, ingester)
			if err != nil {
				return err
			}
		}
	}
	return nil
}
