package memory

import (
	"context"
	"reflect"
	"testing"

	"github.com/opencontainers/go-digest"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockerust/dockerust"
)

func TestInMemoryBlobDescriptorCache(t *testing.T) {
	ctx := context.Background()
	provider := NewInMemoryBlobDescriptorCacheProvider()

	dgst := digest.FromString("blob contents")
	desc := v1.Descriptor{
		MediaType: "application/octet-stream",
		Digest:    dgst,
		Size:      13,
	}

	if _, err := provider.Stat(ctx, dgst); err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected unknown blob error, got %v", err)
	}

	scoped, err := provider.RepositoryScoped("foo/bar")
	if err != nil {
		t.Fatalf("unexpected error getting scoped cache: %v", err)
	}

	if err := scoped.SetDescriptor(ctx, dgst, desc); err != nil {
		t.Fatalf("unexpected error setting descriptor: %v", err)
	}

	// available in the repository scope
	found, err := scoped.Stat(ctx, dgst)
	if err != nil {
		t.Fatalf("unexpected error statting scoped: %v", err)
	}
	if !reflect.DeepEqual(found, desc) {
		t.Fatalf("unexpected descriptor: %#v != %#v", found, desc)
	}

	// set propagates to the global scope
	found, err = provider.Stat(ctx, dgst)
	if err != nil {
		t.Fatalf("unexpected error statting global: %v", err)
	}
	if !reflect.DeepEqual(found, desc) {
		t.Fatalf("unexpected descriptor: %#v != %#v", found, desc)
	}

	// another repository scope does not see it
	other, err := provider.RepositoryScoped("bar/baz")
	if err != nil {
		t.Fatalf("unexpected error getting scoped cache: %v", err)
	}
	if _, err := other.Stat(ctx, dgst); err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected unknown blob in other repository, got %v", err)
	}

	if err := scoped.Clear(ctx, dgst); err != nil {
		t.Fatalf("unexpected error clearing: %v", err)
	}
	if _, err := scoped.Stat(ctx, dgst); err != dockerust.ErrBlobUnknown {
		t.Fatalf("expected unknown blob after clear, got %v", err)
	}
}

func TestInMemoryCacheRejectsInvalidRepoName(t *testing.T) {
	provider := NewInMemoryBlobDescriptorCacheProvider()
	if _, err := provider.RepositoryScoped("Not/Valid"); err == nil {
		t.Fatal("expected error for invalid repository name")
	}
}

func TestInMemoryCacheRejectsInvalidDescriptor(t *testing.T) {
	ctx := context.Background()
	provider := NewInMemoryBlobDescriptorCacheProvider()

	dgst := digest.FromString("some data")
	if err := provider.SetDescriptor(ctx, dgst, v1.Descriptor{Digest: dgst, Size: -1}); err == nil {
		t.Fatal("expected error for negative size")
	}
	if err := provider.SetDescriptor(ctx, dgst, v1.Descriptor{Digest: dgst, Size: 9}); err == nil {
		t.Fatal("expected error for empty media type")
	}
}
