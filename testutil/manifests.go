package testutil

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/manifest/manifestlist"
	"github.com/dockerust/dockerust/manifest/ocischema"
	"github.com/dockerust/dockerust/manifest/schema2"
)

// MakeManifestList constructs a manifest list out of a list of manifest digests
func MakeManifestList(blobstatter dockerust.BlobStatter, manifestDigests []digest.Digest) (*manifestlist.DeserializedManifestList, error) {
	ctx := context.Background()

	var manifestDescriptors []manifestlist.ManifestDescriptor
	for _, manifestDigest := range manifestDigests {
		descriptor, err := blobstatter.Stat(ctx, manifestDigest)
		if err != nil {
			return nil, err
		}
		platformSpec := manifestlist.PlatformSpec{
			Architecture: "atari2600",
			OS:           "CP/M",
			Variant:      "ternary",
			Features:     []string{"VLIW", "superscalaroutoforderdevnull"},
		}
		manifestDescriptor := manifestlist.ManifestDescriptor{
			Descriptor: descriptor,
			Platform:   platformSpec,
		}
		manifestDescriptors = append(manifestDescriptors, manifestDescriptor)
	}

	return manifestlist.FromDescriptors(manifestDescriptors)
}

// MakeSchema2Manifest constructs a schema 2 manifest from a given list of digests and returns
// the digest of the manifest
func MakeSchema2Manifest(repository dockerust.Repository, digests []digest.Digest) (dockerust.Manifest, error) {
	ctx := context.Background()
	blobStore := repository.Blobs(ctx)

	var configJSON []byte

	d, err := blobStore.Put(ctx, schema2.MediaTypeImageConfig, configJSON)
	if err != nil {
		return nil, fmt.Errorf("unexpected error storing content in blobstore: %v", err)
	}
	d.MediaType = schema2.MediaTypeImageConfig

	m := schema2.Manifest{
		Versioned: schema2.SchemaVersion,
		Config:    d,
	}
	for _, dgst := range digests {
		m.Layers = append(m.Layers, v1.Descriptor{
			Digest:    dgst,
			MediaType: schema2.MediaTypeLayer,
		})
	}

	mfst, err := schema2.FromStruct(m)
	if err != nil {
		return nil, fmt.Errorf("unexpected error generating manifest: %v", err)
	}

	return mfst, nil
}

// MakeOCIManifest constructs an OCI image manifest from a given list of
// layer digests, storing an empty config blob in the repository.
func MakeOCIManifest(repository dockerust.Repository, digests []digest.Digest) (dockerust.Manifest, error) {
	ctx := context.Background()
	blobStore := repository.Blobs(ctx)

	var configJSON []byte

	d, err := blobStore.Put(ctx, v1.MediaTypeImageConfig, configJSON)
	if err != nil {
		return nil, fmt.Errorf("unexpected error storing content in blobstore: %v", err)
	}
	d.MediaType = v1.MediaTypeImageConfig

	m := ocischema.Manifest{
		Versioned: ocischema.SchemaVersion,
		Config:    d,
	}
	for _, dgst := range digests {
		m.Layers = append(m.Layers, v1.Descriptor{
			Digest:    dgst,
			MediaType: v1.MediaTypeImageLayerGzip,
		})
	}

	return ocischema.FromStruct(m)
}
