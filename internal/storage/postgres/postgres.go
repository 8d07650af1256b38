package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/bcambel/kinesis2/internal/config"
	"github.com/bcambel/kinesis2/internal/lib/logger/sl"
	"github.com/bcambel/kinesis2/internal/metrics"
	"github.com/bcambel/kinesis2/internal/model"
	"github.com/bcambel/kinesis2/internal/storage"
)

// maxIDSetSize bounds a single ExistingIDs lookup.
const maxIDSetSize = 1000

const insertColumns = `id, received_at, ts, path, url, ip, referrer, user_agent, evt_type, args, form, user_data, cookies, orig_data`

type Storage struct {
	DB  *sql.DB
	log *slog.Logger
}

// NewStorage waits for postgres to come up and returns a connected
// storage. The database regularly starts after the service in compose
// and ECS deployments, hence the retry loop.
func NewStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) *Storage {
	ctx, cancel := context.WithTimeout(ctx, time.Second*60)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			panic("timeout waiting for postgresql")
		case <-ticker.C:
			s, err := connect(cfg, log)
			if err == nil {
				log.Info("postgresql connected successfully")
				return s
			}
			log.Error("postgresql not ready, retrying...", sl.Err(err))
		}
	}
}

func connect(cfg *config.Config, log *slog.Logger) (*Storage, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Storage.Host,
		cfg.Storage.Port,
		cfg.Storage.User,
		cfg.Storage.Password,
		cfg.Storage.DbName,
		cfg.Storage.SslMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgresql connection error: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgresql ping failed: %w", err)
	}

	return &Storage{DB: db, log: log}, nil
}

func (s *Storage) Close() error {
	return s.DB.Close()
}

// SaveEvents adapts and persists one flushed snapshot. The happy path
// is a single multi-row insert; a unique violation degrades to per-row
// inserts so non-conflicting rows still land. Any other error is a hard
// failure and surfaces to the caller untouched by the fallback.
func (s *Storage) SaveEvents(ctx context.Context, events []model.Event) error {
	const op = "storage.postgres.SaveEvents"

	if len(events) == 0 {
		return nil
	}

	rows := make([]Row, 0, len(events))
	for _, e := range events {
		rows = append(rows, AdaptRow(e))
	}

	err := s.insertAll(ctx, rows)
	if err == nil {
		return nil
	}

	if !isUniqueViolation(err) {
		s.log.Error("batch insert failed", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Warn("batch insert hit duplicate id, retrying per row",
		slog.Int("rows", len(rows)),
	)

	if err := s.insertOneByOne(ctx, rows); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// insertAll writes every row in one statement inside a transaction.
func (s *Storage) insertAll(ctx context.Context, rows []Row) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args := buildInsert(rows)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return tx.Commit()
}

// insertOneByOne is the conflict fallback: duplicate ids are skipped,
// anything else aborts.
func (s *Storage) insertOneByOne(ctx context.Context, rows []Row) error {
	skipped := 0
	var sampleID string

	for _, r := range rows {
		err := s.insertRow(ctx, r)
		if errors.Is(err, storage.ErrEventExists) {
			skipped++
			sampleID = r.ID
			metrics.InsertConflictsTotal.Inc()
			continue
		}
		if err != nil {
			return err
		}
	}

	if skipped > 0 {
		s.log.Warn("skipped duplicate rows",
			slog.Int("skipped", skipped),
			slog.String("sample_id", sampleID),
		)
	}

	return nil
}

func (s *Storage) insertRow(ctx context.Context, r Row) error {
	query, args := buildInsert([]Row{r})

	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrEventExists
		}
		return err
	}

	return nil
}

// buildInsert renders a multi-row INSERT for the events table.
func buildInsert(rows []Row) (string, []any) {
	const cols = 14

	var sb strings.Builder
	sb.WriteString(`INSERT INTO events(` + insertColumns + `) VALUES `)

	args := make([]any, 0, len(rows)*cols)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*cols+c+1)
		}
		sb.WriteByte(')')

		args = append(args,
			r.ID,
			r.ReceivedAt,
			r.Ts,
			r.Path,
			r.URL,
			r.IP,
			r.Referrer,
			r.UserAgent,
			r.EvtType,
			jsonArg(r.Args),
			jsonArg(r.Form),
			jsonArg(r.UserData),
			jsonArg(r.Cookies),
			jsonArg(r.OrigData),
		)
	}

	return sb.String(), args
}

// jsonArg binds serialized JSON as text so the driver does not encode
// it as bytea; nil stays NULL.
func jsonArg(b []byte) any {
	if b == nil {
		return nil
	}

	return string(b)
}

// ExistingIDs reports which of the given ids are already persisted.
// Read-side helper for dedup policies, not used on the hot path.
func (s *Storage) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	const op = "storage.postgres.ExistingIDs"

	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}
	if len(ids) > maxIDSetSize {
		return nil, fmt.Errorf("%s: id set too large: %d > %d", op, len(ids), maxIDSetSize)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM events WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	existing := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return existing, nil
}

// isUniqueViolation matches postgres error class 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
