package directory

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads the users table maintained by the rest of the
// application; the coordinator never writes to it.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Resolve(ctx context.Context, userID string) (User, error) {
	const q = `
SELECT id, display_name, COALESCE(avatar_url, '')
FROM users
WHERE id = $1
`
	var u User
	if err := d.db.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.DisplayName, &u.AvatarURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
