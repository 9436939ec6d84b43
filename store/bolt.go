// Package store implements revlog.Store on top of real backends: a local
// bolt file, redis, postgres, and a websocket gateway in front of either of
// the latter.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"collabtext/revlog"
)

var (
	revisionsBucket = []byte("revisions")
	valuesBucket    = []byte("values")
)

// OpenBolt opens (or creates) a bolt file. One file holds any number of
// documents.
func OpenBolt(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bolt %s: %w", path, err)
	}
	return db, nil
}

// BoltStore keeps one document's log in a bolt file. Appends are only seen
// by subscribers of the same BoltStore, so a process should hold one per
// document.
type BoltStore struct {
	db  *bbolt.DB
	doc []byte

	// mu orders commits against subscription snapshots.
	mu     sync.Mutex
	fanout revlog.Fanout
}

func NewBoltStore(db *bbolt.DB, doc string) (*BoltStore, error) {
	s := &BoltStore{db: db, doc: []byte(doc)}
	err := db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(s.doc)
		if err != nil {
			return err
		}
		if _, err := root.CreateBucketIfNotExists(revisionsBucket); err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(valuesBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: init document %s: %w", doc, err)
	}
	return s, nil
}

func (s *BoltStore) bucket(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	return tx.Bucket(s.doc).Bucket(name)
}

func (s *BoltStore) TryCommit(ctx context.Context, id string, rec revlog.Record) (revlog.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	committed := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := s.bucket(tx, revisionsBucket)
		if b.Get([]byte(id)) != nil {
			return nil
		}
		committed = true
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return 0, fmt.Errorf("store: commit %s: %w", id, err)
	}
	if !committed {
		return revlog.Occupied, nil
	}
	s.fanout.Publish(revlog.Entry{ID: id, Record: rec})
	return revlog.Committed, nil
}

func (s *BoltStore) SubscribeAppends(ctx context.Context, fromID string) (*revlog.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	backlog, err := s.Entries(fromID)
	if err != nil {
		return nil, err
	}
	live, unsubscribe := s.fanout.Subscribe(ctx)
	return revlog.NewSubscription(backlog, live, unsubscribe), nil
}

// Entries returns the stored revisions at or after fromID in id order.
// Records that cannot be decoded come back with no author, so replay skips
// them.
func (s *BoltStore) Entries(fromID string) ([]revlog.Entry, error) {
	var entries []revlog.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := s.bucket(tx, revisionsBucket).Cursor()
		for k, v := c.Seek([]byte(fromID)); k != nil; k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				glog.Warningf("[store] bolt %s/%s: %v", s.doc, k, err)
			}
			entries = append(entries, revlog.Entry{ID: string(k), Record: rec})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read revisions: %w", err)
	}
	return entries, nil
}

func (s *BoltStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := s.bucket(tx, valuesBucket).Get([]byte(path)); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if value == nil {
		return nil, revlog.ErrNotFound
	}
	return value, nil
}

func (s *BoltStore) Write(ctx context.Context, path string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return s.bucket(tx, valuesBucket).Put([]byte(path), value)
	})
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// Close ends live subscriptions. The bolt file stays open.
func (s *BoltStore) Close() {
	s.fanout.Close()
}

// encodeRecord stores a record as a protobuf Struct, keeping the operation
// in its wire form.
func encodeRecord(rec revlog.Record) ([]byte, error) {
	var op any
	if err := json.Unmarshal(rec.Operation, &op); err != nil {
		return nil, fmt.Errorf("store: operation is not json: %w", err)
	}
	st, err := structpb.NewStruct(map[string]any{
		"a": rec.Author,
		"o": op,
		"t": rec.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("store: encode record: %w", err)
	}
	return proto.Marshal(st)
}

func decodeRecord(data []byte) (revlog.Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return revlog.Record{}, err
	}
	m := st.AsMap()
	var rec revlog.Record
	author, _ := m["a"].(string)
	rec.Author = author
	if t, ok := m["t"].(float64); ok {
		rec.Timestamp = int64(t)
	}
	op, ok := m["o"]
	if !ok {
		return revlog.Record{}, errors.New("record has no operation")
	}
	wire, err := json.Marshal(op)
	if err != nil {
		return revlog.Record{}, err
	}
	rec.Operation = wire
	return rec, nil
}
