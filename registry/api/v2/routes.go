package v2

import (
	"github.com/gorilla/mux"

	"github.com/dockerust/dockerust/reference"
)

// Route names for the v2 API. Handlers are attached to routes by name,
// and the URLBuilder reverses them when constructing Location headers.
const (
	RouteNameBase            = "base"
	RouteNameManifest        = "manifest"
	RouteNameTags            = "tags"
	RouteNameBlob            = "blob"
	RouteNameBlobUpload      = "blob-upload"
	RouteNameBlobUploadChunk = "blob-upload-chunk"
	RouteNameCatalog         = "catalog"
)

const (
	// referencePat matches either a tag or a digest in the manifest
	// reference position.
	referencePat = `[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}|[A-Za-z][A-Za-z0-9]*(?:[-_+.][A-Za-z][A-Za-z0-9]*)*:[a-fA-F0-9]{32,}`

	// digestPat matches the algorithm:hex form of a digest.
	digestPat = `[A-Za-z][A-Za-z0-9]*(?:[-_+.][A-Za-z][A-Za-z0-9]*)*:[a-fA-F0-9]{32,}`

	// uuidPat is deliberately loose: upload ids are opaque to clients and
	// some proxies rewrite them, so accept uuids and urlsafe base64.
	uuidPat = `[a-zA-Z0-9-_.=]+`
)

// Router builds a gorilla/mux router with named routes for the v2 API.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix builds a router as Router does, with all routes mounted
// under the given path prefix.
func RouterWithPrefix(prefix string) *mux.Router {
	rootRouter := mux.NewRouter()
	router := rootRouter
	if prefix != "" {
		router = router.PathPrefix(prefix).Subrouter()
	}

	router.StrictSlash(true)

	namePat := reference.NameRegexp.String()

	// GET /v2/
	router.Path("/v2/").Name(RouteNameBase)

	// GET|PUT|HEAD|DELETE /v2/<name>/manifests/<reference>
	router.Path("/v2/{name:" + namePat + "}/manifests/{reference:" + referencePat + "}").Name(RouteNameManifest)

	// GET /v2/<name>/tags/list
	router.Path("/v2/{name:" + namePat + "}/tags/list").Name(RouteNameTags)

	// GET|HEAD|DELETE /v2/<name>/blobs/<digest>
	router.Path("/v2/{name:" + namePat + "}/blobs/{digest:" + digestPat + "}").Name(RouteNameBlob)

	// POST /v2/<name>/blobs/uploads/
	router.Path("/v2/{name:" + namePat + "}/blobs/uploads/").Name(RouteNameBlobUpload)

	// GET|PATCH|PUT|DELETE /v2/<name>/blobs/uploads/<uuid>
	router.Path("/v2/{name:" + namePat + "}/blobs/uploads/{uuid:" + uuidPat + "}").Name(RouteNameBlobUploadChunk)

	// GET /v2/_catalog
	router.Path("/v2/_catalog").Name(RouteNameCatalog)

	return rootRouter
}
