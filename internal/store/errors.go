package store

import "github.com/cuemby/fleetd/internal/ferr"

func notFoundMem(kind, key string) error {
	return ferr.NotFound("%s %q not found", kind, key)
}
