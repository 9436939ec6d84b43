package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"collabtext/revlog"
)

const notifyChannel = "revlog_appends"

// Ids compare byte-wise, so the id column uses the C collation.
const schema = `
CREATE TABLE IF NOT EXISTS revisions (
	doc TEXT NOT NULL,
	id TEXT COLLATE "C" NOT NULL,
	author TEXT NOT NULL,
	op JSONB NOT NULL,
	ts BIGINT NOT NULL,
	PRIMARY KEY (doc, id)
);
CREATE TABLE IF NOT EXISTS doc_values (
	doc TEXT NOT NULL,
	path TEXT NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (doc, path)
);
`

// Migrate creates the tables PostgresStore needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// PostgresStore keeps a document's log in the revisions table. A slot is
// claimed by inserting its primary key; appends are announced with NOTIFY
// in the same transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	doc  string
}

func NewPostgresStore(pool *pgxpool.Pool, doc string) *PostgresStore {
	return &PostgresStore{pool: pool, doc: doc}
}

type notification struct {
	Doc string `json:"doc"`
	ID  string `json:"id"`
}

func (s *PostgresStore) TryCommit(ctx context.Context, id string, rec revlog.Record) (revlog.Outcome, error) {
	payload, err := json.Marshal(notification{Doc: s.doc, ID: id})
	if err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return commitFailure(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO revisions (doc, id, author, op, ts) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		s.doc, id, rec.Author, string(rec.Operation), rec.Timestamp)
	if err != nil {
		return pgCommitFailure(err)
	}
	if tag.RowsAffected() == 0 {
		return revlog.Occupied, nil
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return pgCommitFailure(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return pgCommitFailure(err)
	}
	return revlog.Committed, nil
}

func pgCommitFailure(err error) (revlog.Outcome, error) {
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return revlog.Disconnected, nil
	}
	return commitFailure(err)
}

func (s *PostgresStore) SubscribeAppends(ctx context.Context, fromID string) (*revlog.Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("store: listen: %w", err)
	}
	backlog, err := s.Entries(ctx, fromID)
	if err != nil {
		conn.Release()
		return nil, err
	}
	seen := map[string]bool{}
	for _, e := range backlog {
		seen[e.ID] = true
	}

	ctx, cancel := context.WithCancel(ctx)
	live := make(chan revlog.Entry, 64)
	go func() {
		defer close(live)
		defer func() {
			// The connection still listens; close it rather than hand it back.
			conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					glog.Warningf("[store] postgres listener for %s: %v", s.doc, err)
				}
				return
			}
			var msg notification
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil || msg.Doc != s.doc {
				continue
			}
			if msg.ID < fromID || seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			rec, err := s.record(ctx, msg.ID)
			if err != nil {
				glog.Warningf("[store] postgres %s/%s: %v", s.doc, msg.ID, err)
				return
			}
			select {
			case live <- revlog.Entry{ID: msg.ID, Record: rec}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return revlog.NewSubscription(backlog, live, cancel), nil
}

// Entries returns the revisions at or after fromID in id order.
func (s *PostgresStore) Entries(ctx context.Context, fromID string) ([]revlog.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, author, op::text, ts FROM revisions WHERE doc = $1 AND id >= $2 ORDER BY id`,
		s.doc, fromID)
	if err != nil {
		return nil, fmt.Errorf("store: read revisions: %w", err)
	}
	defer rows.Close()
	var entries []revlog.Entry
	for rows.Next() {
		var (
			e  revlog.Entry
			op string
		)
		if err := rows.Scan(&e.ID, &e.Record.Author, &op, &e.Record.Timestamp); err != nil {
			return nil, fmt.Errorf("store: read revisions: %w", err)
		}
		e.Record.Operation = json.RawMessage(op)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read revisions: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) record(ctx context.Context, id string) (revlog.Record, error) {
	var (
		rec revlog.Record
		op  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT author, op::text, ts FROM revisions WHERE doc = $1 AND id = $2`,
		s.doc, id).Scan(&rec.Author, &op, &rec.Timestamp)
	if err != nil {
		return revlog.Record{}, err
	}
	rec.Operation = json.RawMessage(op)
	return rec, nil
}

func (s *PostgresStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM doc_values WHERE doc = $1 AND path = $2`, s.doc, path).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, revlog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return value, nil
}

func (s *PostgresStore) Write(ctx context.Context, path string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO doc_values (doc, path, value) VALUES ($1, $2, $3)
		ON CONFLICT (doc, path) DO UPDATE SET value = EXCLUDED.value`,
		s.doc, path, value)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}
