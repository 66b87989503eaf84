package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"canvas-sync/internal/model"
	"canvas-sync/internal/undo"
)

// SaveState replaces the persisted state and every client's undo buffer in
// one transaction. hists is keyed by client id.
func (s Store) SaveState(ctx context.Context, st model.ServerState, hists map[string]undo.Snapshot) error {
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

	rootArchived := st.RootArchivedChildren
	if rootArchived == nil {
		rootArchived = []model.ArchivedNode{}
	}
	rootJSON, err := json.Marshal(rootArchived)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"version":                strconv.Itoa(st.Version),
		"next_z_index":           strconv.Itoa(st.NextZIndex),
		"root_archived_children": string(rootJSON),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO state_meta(k, v) VALUES(?, ?)`, k, v); err != nil {
			return err
		}
	}

	// Replace-all: the whole tree is small and always written as a unit.
	for _, t := range []string{"nodes", "undo_entries", "undo_cursors"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
			return err
		}
	}

	nowMs := time.Now().UTC().UnixMilli()
	for id, n := range st.Nodes {
		raw, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO nodes(id, parent_id, type, z_index, json, updated_at_unixms) VALUES(?, ?, ?, ?, ?, ?)`,
			id, n.ParentID, string(n.Kind()), n.ZIndex, string(raw), nowMs); err != nil {
			return err
		}
	}
	for clientID, hist := range hists {
		if _, err := tx.ExecContext(ctx, `INSERT INTO undo_cursors(client_id, cursor) VALUES(?, ?)`, clientID, hist.Cursor); err != nil {
			return err
		}
		for i, r := range hist.Entries {
			if r.Entry == nil {
				continue
			}
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO undo_entries(client_id, pos, kind, json) VALUES(?, ?, ?, ?)`,
				clientID, i, string(r.Entry.Kind()), string(raw)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadState reads the persisted state and undo buffers keyed by client id. ok
// is false when nothing was saved yet.
func (s Store) LoadState(ctx context.Context) (model.ServerState, map[string]undo.Snapshot, bool, error) {
	db, err := s.openSQLite(ctx)
	if err != nil {
		return model.ServerState{}, nil, false, err
	}
	defer db.Close()

	meta := map[string]string{}
	rows, err := db.QueryContext(ctx, `SELECT k, v FROM state_meta`)
	if err != nil {
		return model.ServerState{}, nil, false, err
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			return model.ServerState{}, nil, false, err
		}
		meta[k] = v
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return model.ServerState{}, nil, false, err
	}
	if _, ok := meta["version"]; !ok {
		return model.NewServerState(), map[string]undo.Snapshot{}, false, nil
	}

	st := model.NewServerState()
	st.Version, _ = strconv.Atoi(meta["version"])
	st.NextZIndex, _ = strconv.Atoi(meta["next_z_index"])
	if raw := meta["root_archived_children"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &st.RootArchivedChildren); err != nil {
			return model.ServerState{}, nil, false, fmt.Errorf("root archive: %w", err)
		}
	}

	nodes, err := readJSONRows[model.Node](ctx, db, `SELECT json FROM nodes`)
	if err != nil {
		return model.ServerState{}, nil, false, err
	}
	for _, n := range nodes {
		st.Nodes[n.ID] = n
	}

	hists, err := loadHistories(ctx, db)
	if err != nil {
		return model.ServerState{}, nil, false, err
	}
	return st, hists, true, nil
}

func loadHistories(ctx context.Context, db *sql.DB) (map[string]undo.Snapshot, error) {
	hists := map[string]undo.Snapshot{}
	rows, err := db.QueryContext(ctx, `SELECT client_id, cursor FROM undo_cursors`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var clientID string
		var cursor int
		if err := rows.Scan(&clientID, &cursor); err != nil {
			_ = rows.Close()
			return nil, err
		}
		hists[clientID] = undo.Snapshot{Cursor: cursor, Entries: []undo.Record{}}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.QueryContext(ctx, `SELECT client_id, json FROM undo_entries ORDER BY client_id, pos ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var clientID, raw string
		if err := rows.Scan(&clientID, &raw); err != nil {
			return nil, err
		}
		var r undo.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, errors.Join(errors.New("decode undo entry"), err)
		}
		h := hists[clientID]
		h.Entries = append(h.Entries, r)
		hists[clientID] = h
	}
	return hists, rows.Err()
}

func readJSONRows[T any](ctx context.Context, db *sql.DB, q string) ([]T, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, errors.Join(errors.New("decode row"), err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
