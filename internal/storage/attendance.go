package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/stempelwerk/zeitcore/internal/types"
)

// InsertEventIfAbsent schreibt einen Stempel genau einmal. Die Eindeutigkeit
// erzwingt das Unique-Constraint auf (user_id, timestamp, device_serial);
// der Konflikt ist ein normaler Ausgang, kein Fehler. Der Benutzersatz wird
// in derselben Transaktion sichergestellt: ein Stempel darf nie an
// fehlenden Stammdaten scheitern.
func (p *PostgresClient) InsertEventIfAbsent(ctx context.Context, event types.AttendanceEvent) (types.InsertOutcome, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return types.OutcomeUnknown, storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	// unbekannte user_id bekommt einen minimalen Satz, Name folgt später
	// über den Verzeichnisabgleich
	_, err = tx.Exec(ctx, `
		INSERT INTO users (user_id, username)
		VALUES ($1, '')
		ON CONFLICT (user_id) DO NOTHING
	`, event.UserID)
	if err != nil {
		return types.OutcomeUnknown, storeErr("ensure user", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO attendance (user_id, timestamp, device_serial)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, timestamp, device_serial) DO NOTHING
	`, event.UserID, event.Timestamp, event.DeviceSerial)
	if err != nil {
		return types.OutcomeUnknown, storeErr("insert event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.OutcomeUnknown, storeErr("commit", err)
	}

	if tag.RowsAffected() == 0 {
		return types.OutcomeAlreadyExists, nil
	}
	return types.OutcomeInserted, nil
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// buildAttendanceQuery setzt die Reporting-Abfrage aus den gesetzten
// Filtern zusammen
func buildAttendanceQuery(f AttendanceFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.DeviceSerial != "" {
		add("device_serial = $%d", f.DeviceSerial)
	}
	if !f.Since.IsZero() {
		add("timestamp >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("timestamp < $%d", f.Until)
	}

	query := `SELECT id, user_id, timestamp, device_serial, created_at FROM attendance`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	return query, args
}

// QueryAttendance liefert Stempel für die Reporting-API, neueste zuerst
func (p *PostgresClient) QueryAttendance(ctx context.Context, f AttendanceFilter) ([]AttendanceRow, error) {
	query, args := buildAttendanceQuery(f)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("query attendance", err)
	}
	defer rows.Close()

	out := make([]AttendanceRow, 0)
	for rows.Next() {
		var r AttendanceRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Timestamp, &r.DeviceSerial, &r.CreatedAt); err != nil {
			return nil, storeErr("query attendance", fmt.Errorf("scan: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query attendance", err)
	}

	return out, nil
}

// Counts liefert die Bestandszahlen für den Statusendpunkt
func (p *PostgresClient) Counts(ctx context.Context) (users int64, events int64, err error) {
	err = p.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM attendance)
	`).Scan(&users, &events)
	if err != nil {
		return 0, 0, storeErr("counts", err)
	}
	return users, events, nil
}
