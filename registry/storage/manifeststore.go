package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/internal/dcontext"
	"github.com/dockerust/dockerust/manifest"
	"github.com/dockerust/dockerust/manifest/manifestlist"
	"github.com/dockerust/dockerust/manifest/ocischema"
	"github.com/dockerust/dockerust/manifest/schema2"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// manifestStore stores and links manifest revisions inside a repository. The
// payload itself lives in the shared blob store; the revision link is what
// makes it addressable through the repository.
type manifestStore struct {
	repository *repository
	blobStore  *linkedBlobStore
	ctx        context.Context

	skipDependencyVerification bool
}

var _ dockerust.ManifestService = &manifestStore{}

// SkipLayerVerification allows a manifest to be Put before its layers are on
// the filesystem
func SkipLayerVerification() dockerust.ManifestServiceOption {
	return skipLayerOption{}
}

type skipLayerOption struct{}

func (o skipLayerOption) Apply(m dockerust.ManifestService) error {
	if ms, ok := m.(*manifestStore); ok {
		ms.skipDependencyVerification = true
		return nil
	}
	return fmt.Errorf("skip layer verification only valid for manifestStore")
}

func (ms *manifestStore) Exists(ctx context.Context, dgst digest.Digest) (bool, error) {
	dcontext.GetLogger(ms.ctx).Debug("(*manifestStore).Exists")

	_, err := ms.blobStore.Stat(ms.ctx, dgst)
	if err != nil {
		if err == dockerust.ErrBlobUnknown {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (ms *manifestStore) Get(ctx context.Context, dgst digest.Digest) (dockerust.Manifest, error) {
	dcontext.GetLogger(ms.ctx).Debug("(*manifestStore).Get")

	content, err := ms.blobStore.Get(ctx, dgst)
	if err != nil {
		if err == dockerust.ErrBlobUnknown {
			return nil, dockerust.ErrManifestUnknownRevision{
				Name:     ms.repository.Named(),
				Revision: dgst,
			}
		}

		return nil, err
	}

	var versioned manifest.Versioned
	if err = json.Unmarshal(content, &versioned); err != nil {
		return nil, err
	}

	switch versioned.SchemaVersion {
	case 1:
		return nil, dockerust.ErrSchemaV1Unsupported
	case 2:
		// This can be an image manifest or a manifest list
		switch versioned.MediaType {
		case schema2.MediaTypeManifest:
			return ms.unmarshal(ctx, dgst, content, schema2.MediaTypeManifest)
		case manifestlist.MediaTypeManifestList:
			return ms.unmarshal(ctx, dgst, content, manifestlist.MediaTypeManifestList)
		case v1.MediaTypeImageManifest, v1.MediaTypeImageIndex:
			return ms.unmarshal(ctx, dgst, content, versioned.MediaType)
		case "":
			// OCI image manifests and indexes are not required to carry an
			// embedded mediaType. Distinguish them by shape.
			var mediaType string
			if isOCIIndex(content) {
				mediaType = v1.MediaTypeImageIndex
			} else {
				mediaType = v1.MediaTypeImageManifest
			}
			return ms.unmarshal(ctx, dgst, content, mediaType)
		default:
			return nil, dockerust.ErrManifestVerification{
				fmt.Errorf("unrecognized manifest content type %s", versioned.MediaType),
			}
		}
	}

	return nil, fmt.Errorf("unrecognized manifest schema version %d", versioned.SchemaVersion)
}

func (ms *manifestStore) unmarshal(ctx context.Context, dgst digest.Digest, content []byte, mediaType string) (dockerust.Manifest, error) {
	m, desc, err := dockerust.UnmarshalManifest(mediaType, content)
	if err != nil {
		return nil, err
	}
	if desc.Digest != dgst {
		return nil, fmt.Errorf("manifest content does not match revision %s", dgst)
	}
	return m, nil
}

func (ms *manifestStore) Put(ctx context.Context, m dockerust.Manifest) (digest.Digest, error) {
	dcontext.GetLogger(ms.ctx).Debug("(*manifestStore).Put")

	switch m.(type) {
	case *schema2.DeserializedManifest, *ocischema.DeserializedManifest:
		return ms.putManifest(ctx, m)
	case *manifestlist.DeserializedManifestList, *ocischema.DeserializedImageIndex:
		return ms.putManifestList(ctx, m)
	}

	return "", fmt.Errorf("unrecognized manifest type %T", m)
}

// putManifest validates and persists an image manifest: all blobs the
// manifest references must already be present in the repository.
func (ms *manifestStore) putManifest(ctx context.Context, m dockerust.Manifest) (digest.Digest, error) {
	mt, payload, err := m.Payload()
	if err != nil {
		return "", err
	}

	if !ms.skipDependencyVerification {
		if err := ms.verifyManifest(ctx, m); err != nil {
			return "", err
		}
	}

	revision, err := ms.blobStore.Put(ctx, mt, payload)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("error putting payload into blobstore: %v", err)
		return "", err
	}

	return revision.Digest, nil
}

// putManifestList validates and persists a manifest list or image index:
// every referenced manifest must already exist in the repository as a
// revision.
func (ms *manifestStore) putManifestList(ctx context.Context, m dockerust.Manifest) (digest.Digest, error) {
	mt, payload, err := m.Payload()
	if err != nil {
		return "", err
	}

	if !ms.skipDependencyVerification {
		var errs dockerust.ErrManifestVerification
		for _, ref := range m.References() {
			exists, err := ms.Exists(ctx, ref.Digest)
			if err != nil && err != dockerust.ErrBlobUnknown {
				errs = append(errs, err)
			}
			if err != nil || !exists {
				// On error here, we always append unknown blob errors.
				errs = append(errs, dockerust.ErrManifestBlobUnknown{Digest: ref.Digest})
			}
		}
		if len(errs) != 0 {
			return "", errs
		}
	}

	revision, err := ms.blobStore.Put(ctx, mt, payload)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("error putting payload into blobstore: %v", err)
		return "", err
	}

	return revision.Digest, nil
}

// verifyManifest ensures that every blob referenced by the manifest is known
// to the repository. A manifest that references a missing blob fails
// verification and nothing is persisted.
func (ms *manifestStore) verifyManifest(ctx context.Context, m dockerust.Manifest) error {
	var errs dockerust.ErrManifestVerification

	blobsService := ms.repository.Blobs(ctx)
	manifestService, err := ms.repository.Manifests(ctx)
	if err != nil {
		return err
	}

	for _, descriptor := range m.References() {
		err := descriptor.Digest.Validate()
		if err != nil {
			errs = append(errs, err, dockerust.ErrManifestBlobUnknown{Digest: descriptor.Digest})
			continue
		}

		switch descriptor.MediaType {
		case v1.MediaTypeImageManifest, v1.MediaTypeImageIndex, schema2.MediaTypeManifest, manifestlist.MediaTypeManifestList:
			// A subject or nested manifest reference must exist as a
			// revision in this repository.
			exists, err := manifestService.Exists(ctx, descriptor.Digest)
			if err != nil && err != dockerust.ErrBlobUnknown {
				errs = append(errs, err)
			}
			if err != nil || !exists {
				errs = append(errs, dockerust.ErrManifestBlobUnknown{Digest: descriptor.Digest})
			}
		default:
			// Layers and config blobs must be linked into the repository.
			_, err := blobsService.Stat(ctx, descriptor.Digest)
			if err != nil {
				if err != dockerust.ErrBlobUnknown {
					errs = append(errs, err)
				}

				// On error here, we always append unknown blob errors.
				errs = append(errs, dockerust.ErrManifestBlobUnknown{Digest: descriptor.Digest})
			}
		}
	}

	if len(errs) != 0 {
		return errs
	}

	return nil
}

// Delete removes the revision of the specified manifest.
func (ms *manifestStore) Delete(ctx context.Context, dgst digest.Digest) error {
	dcontext.GetLogger(ms.ctx).Debug("(*manifestStore).Delete")
	return ms.blobStore.Delete(ctx, dgst)
}

func (ms *manifestStore) Enumerate(ctx context.Context, ingester func(digest.Digest) error) error {
	err := ms.blobStore.Enumerate(ctx, func(dgst digest.Digest) error {
		return ingester(dgst)
	})
	if err != nil {
		switch err.(type) {
		case storagedriver.PathNotFoundError:
			// Repository has no revisions yet.
			return nil
		}
		return err
	}
	return nil
}

// isOCIIndex reports whether the manifest content has the shape of an image
// index rather than an image manifest.
func isOCIIndex(content []byte) bool {
	var shape struct {
		Manifests []json.RawMessage `json:"manifests"`
	}
	if err := json.Unmarshal(content, &shape); err != nil {
		return false
	}
	return shape.Manifests != nil
}
