package directory

import (
	"context"
	"database/sql"
	"time"
)

// Directory resolves actor ids to display identities. Lookups never block a
// mutation: any failure degrades to a placeholder identity.
type Directory struct {
	DB *sql.DB
}

type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func New(db *sql.DB) Directory {
	return Directory{DB: db}
}

// Resolve returns the identity for an actor id, or a placeholder when the
// user is unknown or the lookup fails.
func (d Directory) Resolve(ctx context.Context, actorID string) Identity {
	var id Identity
	var avatar sql.NullString
	err := d.DB.QueryRowContext(ctx, `SELECT id,name,avatar FROM users WHERE id=?`, actorID).
		Scan(&id.ID, &id.Name, &avatar)
	if err != nil {
		return Identity{ID: actorID, Name: "Unknown user"}
	}
	if avatar.Valid {
		id.Avatar = avatar.String
	}
	return id
}

// ResolveAll maps each actor id to an identity, placeholders included.
func (d Directory) ResolveAll(ctx context.Context, actorIDs []string) map[string]Identity {
	res := make(map[string]Identity, len(actorIDs))
	for _, id := range actorIDs {
		res[id] = d.Resolve(ctx, id)
	}
	return res
}

// EnsureUser inserts a directory entry if missing.
func (d Directory) EnsureUser(ctx context.Context, id, name string) error {
	if name == "" {
		name = id
	}
	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO users(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, name, time.Now().UTC().Format(time.RFC3339))
	return err
}
