// Package fixlog keeps a history of fixes in a SQLite database.
package fixlog

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rock-drivers/drivers-mb500/internal/gnss"
)

const schema = `
	CREATE TABLE IF NOT EXISTS fix (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		time_ns INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		altitude REAL NOT NULL,
		geoid_sep REAL NOT NULL,
		solution INTEGER NOT NULL,
		satellites INTEGER NOT NULL,
		diff_age REAL NOT NULL,
		dev_lat REAL NOT NULL,
		dev_lon REAL NOT NULL,
		dev_alt REAL NOT NULL,
		pdop REAL NOT NULL,
		hdop REAL NOT NULL,
		vdop REAL NOT NULL,
		used TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS fix_time_idx ON fix (time_ns);
`

type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	log.Printf("fix store opened path=%s", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record is one stored fix.
type Record struct {
	ID  int64
	Fix gnss.Fix
}

// Insert stores the position, errors and quality of f.
func (s *Store) Insert(f gnss.Fix) (int64, error) {
	p, e, q := f.Position, f.Errors, f.Quality
	res, err := s.db.Exec(`INSERT INTO fix
		(time_ns, latitude, longitude, altitude, geoid_sep, solution, satellites, diff_age,
		 dev_lat, dev_lon, dev_alt, pdop, hdop, vdop, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Time.UnixNano(), p.Latitude, p.Longitude, p.Altitude, p.GeoidalSeparation,
		int(p.Solution), p.Satellites, p.DifferentialAge,
		e.DevLatitude, e.DevLongitude, e.DevAltitude,
		q.PDOP, q.HDOP, q.VDOP, joinPRNs(q.UsedSatellites))
	if err != nil {
		return 0, fmt.Errorf("insert fix: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to n fixes, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT id, time_ns, latitude, longitude, altitude, geoid_sep,
		solution, satellites, diff_age, dev_lat, dev_lon, dev_alt, pdop, hdop, vdop, used
		FROM fix ORDER BY time_ns DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			ns       int64
			solution int
			used     string
		)
		p, e, q := &r.Fix.Position, &r.Fix.Errors, &r.Fix.Quality
		if err := rows.Scan(&r.ID, &ns, &p.Latitude, &p.Longitude, &p.Altitude, &p.GeoidalSeparation,
			&solution, &p.Satellites, &p.DifferentialAge,
			&e.DevLatitude, &e.DevLongitude, &e.DevAltitude,
			&q.PDOP, &q.HDOP, &q.VDOP, &used); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		t := time.Unix(0, ns).UTC()
		p.Time, e.Time, q.Time = t, t, t
		p.Solution = gnss.SolutionTypeFromCode(solution)
		q.UsedSatellites = splitPRNs(used)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM fix").Scan(&n); err != nil {
		return 0, fmt.Errorf("count fixes: %w", err)
	}
	return n, nil
}

// Prune deletes fixes older than before and returns how many were removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM fix WHERE time_ns < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune fixes: %w", err)
	}
	return res.RowsAffected()
}

func joinPRNs(prns []int) string {
	parts := make([]string, len(prns))
	for i, p := range prns {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func splitPRNs(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(f); err == nil {
			out = append(out, n)
		}
	}
	return out
}
