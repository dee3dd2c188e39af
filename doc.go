// Package dockerust defines the interfaces of a content-addressable
// container image registry: blob storage, resumable blob uploads, manifest
// storage and tagging. Implementations live under registry/storage; the
// HTTP API surface lives under registry/handlers.
package dockerust
