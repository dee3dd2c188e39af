package storage

import (
	"context"
	"time"

	"github.com/dockerust/dockerust"
	"github.com/dockerust/dockerust/reference"
	"github.com/dockerust/dockerust/registry/storage/cache"
	storagedriver "github.com/dockerust/dockerust/registry/storage/driver"
)

// registry is the top-level implementation of Registry for use in the storage
// package. All instances should descend from this object.
type registry struct {
	blobStore                    *blobStore
	blobServer                   *blobServer
	statter                      *blobStatter // global statter service.
	blobDescriptorCacheProvider  cache.BlobDescriptorCacheProvider
	deleteEnabled                bool
	tagLookupConcurrencyLimit    int
	resumableDigestEnabled       bool
	blobDescriptorServiceFactory dockerust.BlobDescriptorServiceFactory
	uploads                      *uploadController
	uploadExpiry                 time.Duration
	driver                       storagedriver.StorageDriver
}

// defaultUploadExpiry bounds how long an inactive upload session stays
// resumable before the purger may remove it.
const defaultUploadExpiry = 24 * time.Hour

// RegistryOption is the type used for functional options for NewRegistry.
type RegistryOption func(*registry) error

// EnableDelete is a functional option for NewRegistry. It enables deletion on
// the registry.
func EnableDelete(registry *registry) error {
	registry.deleteEnabled = true
	return nil
}

// TagLookupConcurrencyLimit is a functional option for NewRegistry. It sets
// the concurrency limit of the tag lookup. A negative value means no limit.
func TagLookupConcurrencyLimit(concurrencyLimit int) RegistryOption {
	return func(registry *registry) error {
		registry.tagLookupConcurrencyLimit = concurrencyLimit
		return nil
	}
}

// UploadSessionExpiry is a functional option for NewRegistry. It sets how
// long an inactive upload session remains resumable.
func UploadSessionExpiry(d time.Duration) RegistryOption {
	return func(registry *registry) error {
		registry.uploadExpiry = d
		return nil
	}
}

// BlobDescriptorServiceFactory returns a functional option for NewRegistry.
// It sets the factory to create BlobDescriptorServiceFactory middleware.
func BlobDescriptorServiceFactory(factory dockerust.BlobDescriptorServiceFactory) RegistryOption {
	return func(registry *registry) error {
		registry.blobDescriptorServiceFactory = factory
		return nil
	}
}

// BlobDescriptorCacheProvider returns a functional option for NewRegistry. It
// creates a cached blob statter for use by the registry.
func BlobDescriptorCacheProvider(blobDescriptorCacheProvider cache.BlobDescriptorCacheProvider) RegistryOption {
	return func(registry *registry) error {
		if blobDescriptorCacheProvider != nil {
			statter := cache.NewCachedBlobStatter(blobDescriptorCacheProvider, registry.statter)
			registry.blobStore.statter = statter
			registry.blobServer.statter = statter
			registry.blobDescriptorCacheProvider = blobDescriptorCacheProvider
		}
		return nil
	}
}

// NewRegistry creates a new registry instance from the provided driver. The
// resulting registry may be shared by multiple goroutines but is cheap to
// allocate.
func NewRegistry(ctx context.Context, driver storagedriver.StorageDriver, options ...RegistryOption) (dockerust.Namespace, error) {
	// create global statter
	statter := &blobStatter{
		driver: driver,
	}

	bs := &blobStore{
		driver:  driver,
		statter: statter,
	}

	registry := &registry{
		blobStore: bs,
		blobServer: &blobServer{
			driver:  driver,
			statter: statter,
			pathFn:  bs.path,
		},
		statter:                statter,
		resumableDigestEnabled: true,
		uploads:                newUploadController(),
		uploadExpiry:           defaultUploadExpiry,
		driver:                 driver,
	}

	for _, option := range options {
		if err := option(registry); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// Scope returns the namespace scope for a registry. The registry
// will only serve repositories contained within this scope.
func (reg *registry) Scope() string {
	return "global"
}

// Repository returns an instance of the repository tied to the registry.
// Instances should not be shared between goroutines but are cheap to
// allocate. In general, they should be request scoped.
func (reg *registry) Repository(ctx context.Context, name string) (dockerust.Repository, error) {
	if err := reference.ValidateName(name); err != nil {
		return nil, dockerust.ErrRepositoryNameInvalid{
			Name:   name,
			Reason: err,
		}
	}

	var descriptorCache dockerust.BlobDescriptorService
	if reg.blobDescriptorCacheProvider != nil {
		var err error
		descriptorCache, err = reg.blobDescriptorCacheProvider.RepositoryScoped(name)
		if err != nil {
			return nil, err
		}
	}

	return &repository{
		ctx:             ctx,
		registry:        reg,
		name:            name,
		descriptorCache: descriptorCache,
	}, nil
}

func (reg *registry) Blobs() dockerust.BlobEnumerator {
	return reg.blobStore
}

func (reg *registry) BlobStatter() dockerust.BlobStatter {
	return reg.statter
}

// repository provides name-scoped access to various services.
type repository struct {
	*registry
	ctx             context.Context
	name            string
	descriptorCache dockerust.BlobDescriptorService
}

// Name returns the name of the repository.
func (repo *repository) Named() string {
	return repo.name
}

func (repo *repository) Tags(ctx context.Context) dockerust.TagService {
	limit := repo.registry.tagLookupConcurrencyLimit
	if limit == 0 {
		limit = defaultTagLookupConcurrency
	}

	return &tagStore{
		repository:       repo,
		blobStore:        repo.registry.blobStore,
		concurrencyLimit: limit,
	}
}

// Manifests returns an instance of ManifestService. Instantiation is cheap
// and may be context sensitive in the future. The instance should be used
// similar to a request local.
func (repo *repository) Manifests(ctx context.Context, options ...dockerust.ManifestServiceOption) (dockerust.ManifestService, error) {
	manifestLinkPathFns := []linkPathFunc{
		manifestRevisionLinkPath,
	}

	manifestDirectoryPathSpec := manifestRevisionsPathSpec{name: repo.name}

	var statter dockerust.BlobDescriptorService = &linkedBlobStatter{
		blobStore:   repo.blobStore,
		repository:  repo,
		linkPathFns: manifestLinkPathFns,
	}

	if repo.registry.blobDescriptorServiceFactory != nil {
		statter = repo.registry.blobDescriptorServiceFactory.BlobAccessController(statter)
	}

	blobStore := &linkedBlobStore{
		ctx:                  ctx,
		registry:             repo.registry,
		blobStore:            repo.blobStore,
		repository:           repo,
		deleteEnabled:        repo.registry.deleteEnabled,
		blobAccessController: statter,

		// linkPath limits this blob store to only manifests. This instance
		// cannot be used for blob checks.
		linkPathFns:           manifestLinkPathFns,
		linkDirectoryPathSpec: manifestDirectoryPathSpec,
	}

	ms := &manifestStore{
		ctx:        ctx,
		repository: repo,
		blobStore:  blobStore,
	}

	// Apply options
	for _, option := range options {
		err := option.Apply(ms)
		if err != nil {
			return nil, err
		}
	}

	return ms, nil
}

func (repo *repository) Blobs(ctx context.Context) dockerust.BlobStore {
	var statter dockerust.BlobDescriptorService = &linkedBlobStatter{
		blobStore:   repo.blobStore,
		repository:  repo,
		linkPathFns: []linkPathFunc{blobLinkPath},
	}

	if repo.descriptorCache != nil {
		statter = cache.NewCachedBlobStatter(repo.descriptorCache, statter)
	}

	if repo.registry.blobDescriptorServiceFactory != nil {
		statter = repo.registry.blobDescriptorServiceFactory.BlobAccessController(statter)
	}

	return &linkedBlobStore{
		registry:             repo.registry,
		blobStore:            repo.blobStore,
		blobServer:           repo.blobServer,
		blobAccessController: statter,
		repository:           repo,
		ctx:                  ctx,

		// linkPath limits this blob store to only layers. This instance
		// cannot be used for manifest checks.
		linkPathFns:            []linkPathFunc{blobLinkPath},
		linkDirectoryPathSpec:  layersPathSpec{name: repo.name},
		deleteEnabled:          repo.registry.deleteEnabled,
		resumableDigestEnabled: repo.resumableDigestEnabled,
	}
}
