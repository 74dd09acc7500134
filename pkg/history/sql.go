package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var columns = []string{
	"vehicle_id", "feed_id", "agency_id", "latitude", "longitude", "observed_at",
	"route_id", "trip_id", "direction_id", "start_date", "start_time",
	"current_stop_id", "current_stop_status", "occupancy_status",
	"vehicle_label", "license_plate", "ingested_at",
}

func (r Record) values() []any {
	return []any{
		r.VehicleID, r.FeedID, r.AgencyID, r.Latitude, r.Longitude, r.Timestamp.UTC(),
		r.RouteID, r.TripID, int64(r.DirectionID), r.StartDate, r.StartTime,
		r.CurrentStopID, r.CurrentStopStatus, r.OccupancyStatus,
		r.VehicleLabel, r.LicensePlate, r.IngestedAt.UTC(),
	}
}

func (r *Record) pointers() []any {
	return []any{
		&r.VehicleID, &r.FeedID, &r.AgencyID, &r.Latitude, &r.Longitude, &r.Timestamp,
		&r.RouteID, &r.TripID, &r.DirectionID, &r.StartDate, &r.StartTime,
		&r.CurrentStopID, &r.CurrentStopStatus, &r.OccupancyStatus,
		&r.VehicleLabel, &r.LicensePlate, &r.IngestedAt,
	}
}

type dialect struct {
	placeholder func(n int) string
	constraint  func(err error) bool
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	constraint: func(err error) bool {
		// Class 23 is integrity_constraint_violation
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code.Class() == "23"
	},
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	constraint: func(err error) bool {
		var sqliteErr *sqlite.Error
		return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	},
}

// SQLStore writes history to Postgres (or TimescaleDB) or SQLite. The schema is
// owned by the database package migrations.
type SQLStore struct {
	db      *sql.DB
	dialect dialect

	mutex  sync.Mutex
	buffer []Record
}

func NewSQLStore(db *sql.DB, backend string) (*SQLStore, error) {
	store := &SQLStore{db: db}

	switch backend {
	case "postgres":
		store.dialect = postgresDialect
	case "sqlite":
		store.dialect = sqliteDialect
	default:
		return nil, fmt.Errorf("unknown sql backend %q", backend)
	}

	return store, nil
}

func (s *SQLStore) Append(_ context.Context, record Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.buffer = append(s.buffer, record)

	return nil
}

func (s *SQLStore) insertStatement() string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = s.dialect.placeholder(i + 1)
	}

	return fmt.Sprintf("INSERT INTO vehicle_positions (%s) VALUES (%s)", strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// Flush inserts the buffered records in a single transaction.
func (s *SQLStore) Flush(ctx context.Context) error {
	s.mutex.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mutex.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statement, err := tx.PrepareContext(ctx, s.insertStatement())
	if err != nil {
		return err
	}
	defer statement.Close()

	for _, record := range pending {
		if _, err := statement.ExecContext(ctx, record.values()...); err != nil {
			return s.wrap(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(err)
	}

	return nil
}

func (s *SQLStore) wrap(err error) error {
	if s.dialect.constraint(err) {
		return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
	}

	return err
}

func (s *SQLStore) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	var conditions []string
	var args []any

	add := func(condition string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, s.dialect.placeholder(len(args))))
	}

	if filter.VehicleID != "" {
		add("vehicle_id = %s", filter.VehicleID)
	}
	if filter.FeedID != "" {
		add("feed_id = %s", filter.FeedID)
	}
	if filter.AgencyID != "" {
		add("agency_id = %s", filter.AgencyID)
	}
	if !filter.From.IsZero() {
		add("observed_at >= %s", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("observed_at < %s", filter.To.UTC())
	}

	query := fmt.Sprintf("SELECT %s FROM vehicle_positions", strings.Join(columns, ", "))
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY observed_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(record.pointers()...); err != nil {
			return nil, err
		}
		record.Timestamp = record.Timestamp.UTC()
		record.IngestedAt = record.IngestedAt.UTC()

		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
