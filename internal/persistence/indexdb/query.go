package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// RecentGroups returns the latest group lifecycles, newest first. An empty
// kind matches every kind.
func (s *SQLiteIndex) RecentGroups(ctx context.Context, kind string, limit int) ([]GroupRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, variant, members_json, formed_tick, formed_ms, dissolved_tick, reason
		FROM groups
		WHERE (?1 = '' OR kind = ?1)
		ORDER BY formed_tick DESC, id
		LIMIT ?2`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupRecord
	for rows.Next() {
		var (
			g         GroupRecord
			members   string
			formedMS  int64
			dissolved sql.NullInt64
			reason    sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.Kind, &g.Variant, &members, &g.FormedTick, &formedMS, &dissolved, &reason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &g.Members); err != nil {
			return nil, err
		}
		g.FormedAt = time.UnixMilli(formedMS).UTC()
		if dissolved.Valid {
			t := uint64(dissolved.Int64)
			g.DissolvedTick = &t
		}
		g.Reason = reason.String
		out = append(out, g)
	}
	return out, rows.Err()
}

// LunarHistory returns recorded phase changes for env, newest first. An
// empty env matches every environment.
func (s *SQLiteIndex) LunarHistory(ctx context.Context, env string, limit int) ([]LunarRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT env_id, tick, day, phase, name, multiplier, ts_ms
		FROM lunar
		WHERE (?1 = '' OR env_id = ?1)
		ORDER BY tick DESC, env_id
		LIMIT ?2`, env, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LunarRecord
	for rows.Next() {
		var (
			r  LunarRecord
			ms int64
		)
		if err := rows.Scan(&r.Env, &r.Tick, &r.Day, &r.Phase, &r.Name, &r.Multiplier, &ms); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(ms).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountsByKind returns how many groups each kind has formed.
func (s *SQLiteIndex) CountsByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM groups GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
