package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/lmplayground/model-store/internal/domain"
)

// mapOSError translates filesystem errors onto the domain taxonomy
func mapOSError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %v", domain.ErrInsufficientSpace, err)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	default:
		return err
	}
}

// mapRootError treats a missing or unreadable root as an inaccessible location
func mapRootError(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
	}
	return mapOSError(err)
}
