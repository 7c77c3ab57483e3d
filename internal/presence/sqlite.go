package presence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRepository journals presence in the user_presence table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts the entry. A stored row with a newer timestamp is kept.
func (r *SQLiteRepository) Save(ctx context.Context, p UserPresence) error {
	var locationID, locationName sql.NullString
	if p.Location != nil {
		locationID = sql.NullString{String: p.Location.ID, Valid: true}
		locationName = sql.NullString{String: p.Location.Name, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_presence (user_id, sphere_id, location_id, location_name, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sphere_id = excluded.sphere_id,
			location_id = excluded.location_id,
			location_name = excluded.location_name,
			source = excluded.source,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= user_presence.updated_at`,
		p.UserID, p.SphereID, locationID, locationName, string(p.Source), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving presence for %s: %w", p.UserID, err)
	}
	return nil
}

// List returns every journaled entry ordered by user id.
func (r *SQLiteRepository) List(ctx context.Context) ([]UserPresence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, sphere_id, location_id, location_name, source, updated_at
		FROM user_presence
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	defer rows.Close()

	var out []UserPresence
	for rows.Next() {
		var (
			p                        UserPresence
			locationID, locationName sql.NullString
			source                   string
			updatedAt                int64
		)
		if err := rows.Scan(&p.UserID, &p.SphereID, &locationID, &locationName, &source, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning presence: %w", err)
		}
		if locationID.Valid {
			p.Location = &RoomRef{ID: locationID.String, Name: locationName.String}
		}
		p.Source = Source(source)
		p.UpdatedAt = time.Unix(0, updatedAt).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presence: %w", err)
	}
	return out, nil
}
