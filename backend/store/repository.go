package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ZRange returns members of the ordered set at key, ranked by score ascending
// with insertion order breaking ties. Start and stop are inclusive ranks;
// stop -1 means "through the last member", mirroring the usual sorted-set
// range convention.
func (s *Store) ZRange(ctx context.Context, key string, start int, stop int) ([]ScoredMember, error) {
	if start < 0 {
		start = 0
	}
	limit := -1
	if stop >= 0 {
		if stop < start {
			return nil, nil
		}
		limit = stop - start + 1
	}
	const q = `SELECT score, member FROM sorted_members WHERE set_key = ? ORDER BY score ASC, id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, q, key, limit, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ScoredMember, 0, 64)
	for rows.Next() {
		var item ScoredMember
		if err := rows.Scan(&item.Score, &item.Member); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ZAddBatch inserts all members in a single transaction so a concurrent
// reader never observes a partially written bucket.
func (s *Store) ZAddBatch(ctx context.Context, key string, members []ScoredMember) error {
	if len(members) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO sorted_members (set_key, score, member) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, member := range members {
			if _, err := stmt.ExecContext(ctx, key, member.Score, member.Member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	const q = `SELECT COUNT(*) FROM sorted_members WHERE set_key = ?`
	var count int64
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetString returns the value at key; ok is false when the key is absent.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM kv_strings WHERE key = ? LIMIT 1`
	var value string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetString(ctx context.Context, key string, value string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_strings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	return err
}

func parseSQLiteTime(raw string) time.Time {
	layoutCandidates := []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"}
	for _, layout := range layoutCandidates {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
