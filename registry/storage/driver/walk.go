package driver

import (
	"context"
	"sort"
)

// WalkFn is called once per file by Walk.
type WalkFn func(fileInfo FileInfo) error

// WalkFallback traverses a filesystem defined within driver, starting from
// the given path, calling f on each file. It uses the List method to
// discover entries, so it works for any driver without a native walk.
// If the returned error from the WalkFn is ErrSkipDir and fileInfo refers to
// a directory, the directory will not be entered and Walk will continue the
// traversal. Directories are walked in lexical order.
func WalkFallback(ctx context.Context, driver StorageDriver, from string, f WalkFn) error {
	children, err := driver.List(ctx, from)
	if err != nil {
		return err
	}
	sort.Strings(children)
	for _, child := range children {
		fileInfo, err := driver.Stat(ctx, child)
		if err != nil {
			switch err.(type) {
			case PathNotFoundError:
				// repository was removed in between listing and enumeration.
				continue
			default:
				return err
			}
		}
		err = f(fileInfo)
		if err == nil && fileInfo.IsDir() {
			err = WalkFallback(ctx, driver, child, f)
		}

		if err == ErrSkipDir {
			// Stop iteration if it's a file, otherwise noop if it's a directory
			if !fileInfo.IsDir() {
				return nil
			}
		} else if err != nil {
			return err
		}
	}
	return nil
}
