package storage

import "context"

// Idempotentes DDL, läuft bei jedem Prozessstart. Migrationen im Sinne
// von Schemaänderungen sind Sache externer Werkzeuge.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		username   TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id            BIGSERIAL PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES users(user_id),
		timestamp     TIMESTAMPTZ NOT NULL,
		device_serial TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, timestamp, device_serial)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_user_id ON attendance (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_timestamp ON attendance (timestamp)`,
}

// EnsureSchema legt Tabellen und Indizes an, falls sie fehlen
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return storeErr("ensure schema", err)
		}
	}
	return nil
}
