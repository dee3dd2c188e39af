package main

import (
	"github.com/dockerust/dockerust/registry"
	_ "github.com/dockerust/dockerust/registry/auth/htpasswd"
	_ "github.com/dockerust/dockerust/registry/storage/driver/filesystem"
	_ "github.com/dockerust/dockerust/registry/storage/driver/inmemory"
)

func main() {
	// nolint:errcheck
	registry.RootCmd.Execute()
}
