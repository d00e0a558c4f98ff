// Package directory is the coordinator's read-only view of the user store.
package directory

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("directory: user not found")

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Directory resolves user ids to profile data for composing human-readable
// call-outcome text. Lookups are best-effort; callers fall back to the raw id.
type Directory interface {
	Resolve(ctx context.Context, userID string) (User, error)
}
