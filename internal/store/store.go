// Package store persists samples in SQLite. Rows are append-only; the only
// deletion path is DeleteOlderThan, used by the retention sweep.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rileyhilliard/proxymon/internal/collector"
	"github.com/rileyhilliard/proxymon/internal/errors"
	_ "modernc.org/sqlite"
)

// DefaultRecentLimit caps Recent when no limit is given.
const DefaultRecentLimit = 500

// metricColumns are the scalar keys stored in their own nullable columns.
var metricColumns = []string{"cpu", "mem", "cc", "cs", "http", "https", "ftp"}

const selectColumns = `id, proxy_id, collected_at, cpu, mem, cc, cs, http, https, ftp, interfaces, community, probes, error`

// Store is a SQLite-backed sample store.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrPersist,
				fmt.Sprintf("Can't create store directory %s", dir), "")
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist, "Failed to open sample store", "")
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			fmt.Sprintf("Failed to migrate sample store %s", dbPath),
			"Check the file is a proxymon database and is writable")
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertSamples writes samples in one transaction.
func (s *Store) InsertSamples(ctx context.Context, samples []collector.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist, "Failed to begin sample write", "")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples
		(proxy_id, collected_at, cpu, mem, cc, cs, http, https, ftp, interfaces, community, probes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.WrapWithCode(err, errors.ErrPersist, "Failed to prepare sample write", "")
	}
	defer stmt.Close()

	for _, smp := range samples {
		args, err := insertArgs(smp)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			tx.Rollback()
			return errors.WrapWithCode(err, errors.ErrPersist,
				fmt.Sprintf("Failed to write sample for proxy %d", smp.ProxyID), "")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist, "Failed to commit samples", "")
	}
	return nil
}

func insertArgs(smp collector.Sample) ([]interface{}, error) {
	args := []interface{}{smp.ProxyID, smp.CollectedAt.UnixMilli()}
	for _, col := range metricColumns {
		if v, ok := smp.Value(col); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}

	var ifaces interface{}
	if smp.Interfaces != nil {
		b, err := json.Marshal(smp.Interfaces)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrPersist, "Failed to encode interface rates", "")
		}
		ifaces = string(b)
	}
	probes, err := json.Marshal(smp.Probes)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist, "Failed to encode probe map", "")
	}
	return append(args, ifaces, smp.Community, string(probes), smp.Error), nil
}

// Query selects samples. Zero fields are unconstrained.
type Query struct {
	ProxyIDs []int64
	Start    time.Time
	End      time.Time
	Limit    int
	// Newest orders by collected_at descending.
	Newest bool
}

// Samples runs q.
func (s *Store) Samples(ctx context.Context, q Query) ([]collector.Sample, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(q.ProxyIDs) > 0 {
		placeholders := make([]string, len(q.ProxyIDs))
		for i, id := range q.ProxyIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		where = append(where, fmt.Sprintf("proxy_id IN (%s)", strings.Join(placeholders, ",")))
	}
	if !q.Start.IsZero() {
		where = append(where, "collected_at >= ?")
		args = append(args, q.Start.UnixMilli())
	}
	if !q.End.IsZero() {
		where = append(where, "collected_at <= ?")
		args = append(args, q.End.UnixMilli())
	}

	query := "SELECT " + selectColumns + " FROM samples"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Newest {
		query += " ORDER BY collected_at DESC, id DESC"
	} else {
		query += " ORDER BY collected_at, id"
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist, "Failed to query samples", "")
	}
	defer rows.Close()

	var result []collector.Sample
	for rows.Next() {
		smp, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist, "Failed to read samples", "")
	}
	return result, nil
}

// Recent returns the newest samples across all proxies.
func (s *Store) Recent(ctx context.Context, limit int) ([]collector.Sample, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.Samples(ctx, Query{Limit: limit, Newest: true})
}

// Latest returns the newest sample of one proxy.
func (s *Store) Latest(ctx context.Context, proxyID int64) (collector.Sample, bool, error) {
	res, err := s.Samples(ctx, Query{ProxyIDs: []int64{proxyID}, Limit: 1, Newest: true})
	if err != nil || len(res) == 0 {
		return collector.Sample{}, false, err
	}
	return res[0], true, nil
}

// Series returns samples in [start, end] grouped by proxy, oldest first.
func (s *Store) Series(ctx context.Context, proxyIDs []int64, start, end time.Time) (map[int64][]collector.Sample, error) {
	res, err := s.Samples(ctx, Query{ProxyIDs: proxyIDs, Start: start, End: end})
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]collector.Sample, len(proxyIDs))
	for _, id := range proxyIDs {
		out[id] = []collector.Sample{}
	}
	for _, smp := range res {
		out[smp.ProxyID] = append(out[smp.ProxyID], smp)
	}
	return out, nil
}

// DeleteOlderThan removes samples collected before cutoff in one statement.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM samples WHERE collected_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrRetention, "Failed to delete old samples", "")
	}
	return res.RowsAffected()
}

// Count returns the number of stored samples.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&n); err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrPersist, "Failed to count samples", "")
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row scanner) (collector.Sample, error) {
	var (
		id          int64
		smp         collector.Sample
		collectedAt int64
		values      = make([]sql.NullFloat64, len(metricColumns))
		ifaces      sql.NullString
		probes      string
	)
	dest := []interface{}{&id, &smp.ProxyID, &collectedAt}
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &ifaces, &smp.Community, &probes, &smp.Error)
	if err := row.Scan(dest...); err != nil {
		return smp, errors.WrapWithCode(err, errors.ErrPersist, "Failed to scan sample", "")
	}

	smp.CollectedAt = time.UnixMilli(collectedAt).UTC()
	if err := json.Unmarshal([]byte(probes), &smp.Probes); err != nil {
		return smp, errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Sample %d has a corrupt probe map", id), "")
	}

	smp.Values = make(map[string]*float64)
	for i, col := range metricColumns {
		if values[i].Valid {
			v := values[i].Float64
			smp.Values[col] = &v
		} else if _, configured := smp.Probes[col]; configured {
			smp.Values[col] = nil
		}
	}

	if ifaces.Valid {
		if err := json.Unmarshal([]byte(ifaces.String), &smp.Interfaces); err != nil {
			return smp, errors.WrapWithCode(err, errors.ErrPersist, fmt.Sprintf("Sample %d has corrupt interface rates", id), "")
		}
	}
	return smp, nil
}
