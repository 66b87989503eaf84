package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one accepted mutation, as appended to the event log.
type Event struct {
	ID       string    `json:"id"`
	Seq      int64     `json:"seq"`
	TS       time.Time `json:"ts"`
	ClientID string    `json:"clientId"`
	Type     string    `json:"type"`
	EntityID string    `json:"entityId"`
	Payload  any       `json:"payload,omitempty"`
}

// AppendEvent records an accepted mutation. The log is append-only.
func (s Store) AppendEvent(ctx context.Context, clientID, typ, entityID string, payload any) error {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return errMissing("type")
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return errMissing("entity id")
	}

	pb, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	db, err := s.openSQLite(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM events`).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(event_id, seq, client_id, type, entity_id, payload_json, issued_at_unixms) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), seq, strings.TrimSpace(clientID), typ, entityID, string(pb), time.Now().UTC().UnixMilli()); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadEvents returns the newest limit events in append order (all when limit <= 0).
// A non-empty entityID filters to that node.
func (s Store) ReadEvents(ctx context.Context, entityID string, limit int) ([]Event, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	q := `SELECT event_id, seq, client_id, type, entity_id, payload_json, issued_at_unixms FROM events`
	args := []any{}
	if entityID = strings.TrimSpace(entityID); entityID != "" {
		q += ` WHERE entity_id = ?`
		args = append(args, entityID)
	}
	q += ` ORDER BY seq DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var ev Event
		var payloadJSON string
		var tsMs int64
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.ClientID, &ev.Type, &ev.EntityID, &payloadJSON, &tsMs); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(payloadJSON), &ev.Payload)
		ev.TS = time.UnixMilli(tsMs).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type errMissing string

func (e errMissing) Error() string { return "missing " + string(e) }
