package registry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for lookups of users that were never registered.
var ErrNotFound = errors.New("user not found")

// User is one registered user. Department is empty until the user picks one;
// IsAdmin is derived from the department and never set independently.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Department   string
	IsAdmin      bool
	RegisteredAt time.Time
}

// BroadcastRecord is one entry of the append-only broadcast log.
// Target is either a department name or TargetAll. Delivery outcome is not
// recorded; the log captures intent, not receipts.
type BroadcastRecord struct {
	ID        int64
	AdminID   int64
	Target    string
	Message   string
	CreatedAt time.Time
}

// Store is the persistence API for users and the broadcast log.
type Store interface {
	// RegisterIfAbsent inserts a new user with no department. It is a no-op
	// (existing username/full name are kept) when the user already exists.
	RegisterIfAbsent(ctx context.Context, userID int64, username, fullName string) error

	// SetDepartment writes the department and the derived admin flag in a
	// single update. Returns ErrNotFound when the user has no row.
	SetDepartment(ctx context.Context, userID int64, dept string) error

	GetUser(ctx context.Context, userID int64) (User, error)

	// ListUserIDsByDepartment matches the stored value exactly (case
	// sensitive); stored values come from the fixed set so case is
	// consistent by construction.
	ListUserIDsByDepartment(ctx context.Context, dept string) ([]int64, error)
	ListAllUserIDs(ctx context.Context) ([]int64, error)

	RecordBroadcast(ctx context.Context, adminID int64, target, message string) error
	ListBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error)
	PruneBroadcasts(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
