package storage

import (
	"context"
	"path"

	"github.com/opencontainers/go-digest"

	"github.com/dockerust/dockerust/internal/dcontext"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// NewVacuum creates a new Vacuum which is used to remove all unreferenced
// data from a registry's backend storage.
func NewVacuum(driver storagedriver.StorageDriver) Vacuum {
	return Vacuum{driver: driver}
}

// Vacuum removes content from the filesystem
type Vacuum struct {
	driver storagedriver.StorageDriver
}

// RemoveBlob removes a blob from the filesystem
func (v Vacuum) RemoveBlob(ctx context.Context, dgst digest.Digest) error {
	blobPath, err := pathFor(blobPathSpec{digest: dgst})
	if err != nil {
		return err
	}

	dcontext.GetLogger(ctx).Infof("deleting blob: %s", blobPath)

	err = v.driver.Delete(ctx, blobPath)
	if err != nil {
		return err
	}

	return nil
}

// RemoveManifest removes a manifest from the filesystem. It removes the
// revision link and every tag index entry that references the revision.
func (v Vacuum) RemoveManifest(ctx context.Context, name string, dgst digest.Digest, manifestLinkPathSpecs []pathSpec) error {
	// remove manifest tag reference files
	for _, spec := range manifestLinkPathSpecs {
		p, err := pathFor(spec)
		if err != nil {
			return err
		}

		_, err = v.driver.Stat(ctx, p)
		if err != nil {
			// error other than path not found
			if _, ok := err.(storagedriver.PathNotFoundError); !ok {
				return err
			}
			continue
		}

		err = v.driver.Delete(ctx, p)
		if err != nil {
			return err
		}
	}

	manifestPath, err := pathFor(manifestRevisionPathSpec{name: name, revision: dgst})
	if err != nil {
		return err
	}

	dcontext.GetLogger(ctx).Infof("deleting manifest: %s", manifestPath)

	return v.driver.Delete(ctx, manifestPath)
}

// RemoveRepository removes a repository directory from the filesystem
func (v Vacuum) RemoveRepository(ctx context.Context, repoName string) error {
	rootForRepository, err := pathFor(repositoriesRootPathSpec{})
	if err != nil {
		return err
	}

	repoDir := path.Join(rootForRepository, repoName)
	dcontext.GetLogger(ctx).Infof("deleting repository: %s", repoDir)

	err = v.driver.Delete(ctx, repoDir)
	if err != nil {
		return err
	}

	return nil
}

// RemoveLayerLink removes a repository's link to a layer blob.
func (v Vacuum) RemoveLayerLink(ctx context.Context, repoName string, dgst digest.Digest) error {
	layerLinkPath, err := pathFor(layerLinkPathSpec{name: repoName, digest: dgst})
	if err != nil {
		return err
	}

	dcontext.GetLogger(ctx).Infof("deleting layer link: %s", layerLinkPath)

	err = v.driver.Delete(ctx, path.Dir(layerLinkPath))
	if err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			return nil
		}
		return err
	}

	return nil
}
