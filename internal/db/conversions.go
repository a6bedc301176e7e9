package db

import (
	"fmt"
	"time"
)

// Conversion records a mesh uploaded for viewing and the STL it became.
type Conversion struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"-"`
	SourceName   string    `json:"source_name"`
	SourceFormat string    `json:"source_format"`
	TargetPath   string    `json:"-"`
	Vertices     int       `json:"vertices"`
	Triangles    int       `json:"triangles"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecordConversion inserts c. ID and CreatedAt must be set.
func (db *DB) RecordConversion(c *Conversion) error {
	if c.ID == "" {
		return fmt.Errorf("conversion id is required")
	}
	_, err := db.Exec(`
		INSERT INTO conversions (conversion_id, session_id, source_name, source_format, target_path, vertices, triangles, created_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.SourceName, c.SourceFormat, c.TargetPath, c.Vertices, c.Triangles, unixMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

// ListConversions returns the conversions of a session, newest first.
func (db *DB) ListConversions(sessionID string) ([]Conversion, error) {
	rows, err := db.Query(`
		SELECT conversion_id, session_id, source_name, source_format, target_path, vertices, triangles, created_unix_ms
		FROM conversions WHERE session_id = ? ORDER BY created_unix_ms DESC, conversion_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	out := []Conversion{}
	for rows.Next() {
		var (
			c       Conversion
			created int64
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.SourceName, &c.SourceFormat, &c.TargetPath, &c.Vertices, &c.Triangles, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnixMillis(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
