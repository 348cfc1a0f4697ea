package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stempelwerk/zeitcore/internal/types"
)

// Leere Namen überschreiben keine bekannten: Terminals ohne gepflegtes
// Namensfeld dürfen das Verzeichnis nicht ausdünnen.
const upsertUserSQL = `
	INSERT INTO users (user_id, username)
	VALUES ($1, $2)
	ON CONFLICT (user_id)
	DO UPDATE SET
		username = CASE WHEN EXCLUDED.username <> '' THEN EXCLUDED.username ELSE users.username END,
		updated_at = NOW()
`

// UpsertUsers schreibt ein komplettes Geräteverzeichnis in einer
// Transaktion, gebündelt über eine Batch-Pipeline. Ein bereits
// vorhandener user_id ist kein Fehler.
func (p *PostgresClient) UpsertUsers(ctx context.Context, users []types.UserRecord) error {
	if len(users) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL, u.UserID, u.Username)
	}

	results := tx.SendBatch(ctx, batch)
	for range users {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return storeErr("upsert users", err)
		}
	}
	if err := results.Close(); err != nil {
		return storeErr("upsert users", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// ListUsers liefert das Verzeichnis für die Reporting-API
func (p *PostgresClient) ListUsers(ctx context.Context) ([]types.UserRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, username, created_at, updated_at
		FROM users
		ORDER BY user_id
	`)
	if err != nil {
		return nil, storeErr("list users", err)
	}
	defer rows.Close()

	users := make([]types.UserRecord, 0)
	for rows.Next() {
		var u types.UserRecord
		if err := rows.Scan(&u.UserID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, storeErr("list users", fmt.Errorf("scan: %w", err))
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list users", err)
	}

	return users, nil
}
