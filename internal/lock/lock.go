// Package lock serialises upgrade runs against one database.
package lock

import (
	"context"

	"github.com/openmrs/openmrs-core-sub027/internal/errors"
)

// ErrLocked is returned by Acquire while another owner holds the lock.
var ErrLocked = errors.ErrLocked

// Locker is held for the whole run. Release by a non-owner is a no-op.
type Locker interface {
	Acquire(ctx context.Context, owner string) error
	Release(ctx context.Context, owner string) error
}
