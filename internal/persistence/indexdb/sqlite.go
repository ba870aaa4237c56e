package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"somnia.ai/internal/sim/catalogs"
	"somnia.ai/internal/sim/events"
	"somnia.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan events.Event
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	dropped   atomic.Uint64
	written   atomic.Uint64
	flushFail atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan events.Event, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS groups (
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			variant TEXT NOT NULL,
			members_json TEXT NOT NULL,
			formed_tick INTEGER NOT NULL,
			formed_ms INTEGER NOT NULL,
			dissolved_tick INTEGER,
			reason TEXT,
			PRIMARY KEY (id, formed_tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_groups_kind_tick ON groups(kind, formed_tick);`,
		`CREATE TABLE IF NOT EXISTS lunar (
			env_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			day INTEGER NOT NULL,
			phase INTEGER NOT NULL,
			name TEXT NOT NULL,
			multiplier REAL NOT NULL,
			ts_ms INTEGER NOT NULL,
			PRIMARY KEY (env_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS session_ends (
			event_id TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			kind TEXT NOT NULL,
			owner TEXT NOT NULL,
			reason TEXT NOT NULL,
			ticks INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Publish queues e; a full queue drops it.
func (s *SQLiteIndex) Publish(e events.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		Dropped:       s.dropped.Load(),
		Written:       s.written.Load(),
		FlushFail:     s.flushFail.Load(),
	}
}

// RecordConfig stores the catalogs and tuning in effect, keyed by digest.
func (s *SQLiteIndex) RecordConfig(tune tuning.Tuning, cats *catalogs.Catalogs) error {
	if s == nil {
		return nil
	}
	rows, err := configRows(tune, cats)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type configRow struct {
	name   string
	digest string
	data   []byte
}

func configRows(tune tuning.Tuning, cats *catalogs.Catalogs) ([]configRow, error) {
	if cats == nil {
		cats = catalogs.Defaults()
	}
	var rows []configRow
	for _, p := range []struct {
		name string
		pal  catalogs.Palette
	}{{"effects", cats.Effects}, {"cues", cats.Cues}} {
		defs := make([]catalogs.Def, 0, len(p.pal.IDs))
		for _, id := range p.pal.IDs {
			defs = append(defs, p.pal.Defs[id])
		}
		b, err := json.Marshal(defs)
		if err != nil {
			return nil, err
		}
		rows = append(rows, configRow{name: p.name, digest: p.pal.Digest, data: b})
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	rows = append(rows, configRow{name: "tuning", digest: hex.EncodeToString(sum[:]), data: b})
	return rows, nil
}

// ConfigDigest returns the stored digest for a config row name.
func (s *SQLiteIndex) ConfigDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertGroup, _ := s.db.Prepare(`INSERT OR REPLACE INTO groups(id,kind,variant,members_json,formed_tick,formed_ms) VALUES(?,?,?,?,?,?)`)
	closeGroup, _ := s.db.Prepare(`UPDATE groups SET dissolved_tick=?, reason=? WHERE id=? AND dissolved_tick IS NULL`)
	insertLunar, _ := s.db.Prepare(`INSERT OR REPLACE INTO lunar(env_id,tick,day,phase,name,multiplier,ts_ms) VALUES(?,?,?,?,?,?,?)`)
	insertEnd, _ := s.db.Prepare(`INSERT OR REPLACE INTO session_ends(event_id,tick,kind,owner,reason,ticks) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertGroup, closeGroup, insertLunar, insertEnd} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 512
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.flushFail.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.flushFail.Add(1)
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.flushFail.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		var e events.Event
		select {
		case ev, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			e = ev
		case <-ticker.C:
			// Idle transactions must not hold the only connection.
			commit()
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch e.Type {
		case events.TypeGroupFormed:
			members, _ := json.Marshal(nonNil(e.Members))
			exec(insertGroup, e.GroupID, e.Kind, e.Variant, string(members), int64(e.Tick), e.TS)
		case events.TypeGroupDissolved:
			exec(closeGroup, int64(e.Tick), e.Reason, e.GroupID)
		case events.TypeLunarPhaseChanged:
			if e.Lunar != nil {
				exec(insertLunar, e.EnvID, int64(e.Tick), e.Lunar.Day, e.Lunar.Phase, e.Lunar.Name, e.Lunar.Multiplier, e.TS)
			}
		case events.TypeSessionEnded:
			owner := e.ActorID
			if e.GroupID != "" {
				owner = "group:" + e.GroupID
			}
			exec(insertEnd, e.ID, int64(e.Tick), e.Kind, owner, e.Reason, int64(e.Ticks))
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Index = (*SQLiteIndex)(nil)
