package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"collabtext/revlog"
)

// RedisStore keeps a document's log in a redis hash, claimed slot by slot
// with HSETNX. Appends are announced on a pub/sub channel.
type RedisStore struct {
	rdb        redis.UniversalClient
	historyKey string
	valuesKey  string
	channel    string
}

func NewRedisStore(rdb redis.UniversalClient, doc string) *RedisStore {
	prefix := "revlog:" + doc
	return &RedisStore{
		rdb:        rdb,
		historyKey: prefix + ":history",
		valuesKey:  prefix + ":values",
		channel:    prefix + ":appends",
	}
}

// appendMessage is what subscribers receive on the channel.
type appendMessage struct {
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record"`
}

func (s *RedisStore) TryCommit(ctx context.Context, id string, rec revlog.Record) (revlog.Outcome, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("store: encode record: %w", err)
	}
	claimed, err := s.rdb.HSetNX(ctx, s.historyKey, id, data).Result()
	if err != nil {
		return commitFailure(err)
	}
	if !claimed {
		existing, err := s.rdb.HGet(ctx, s.historyKey, id).Bytes()
		if err != nil {
			return commitFailure(err)
		}
		if !bytes.Equal(existing, data) {
			return revlog.Occupied, nil
		}
		// An earlier attempt of ours claimed the slot but may have been cut
		// off before announcing it.
	}
	msg, err := json.Marshal(appendMessage{ID: id, Record: data})
	if err != nil {
		return 0, err
	}
	if err := s.rdb.Publish(ctx, s.channel, msg).Err(); err != nil {
		return commitFailure(err)
	}
	return revlog.Committed, nil
}

func (s *RedisStore) SubscribeAppends(ctx context.Context, fromID string) (*revlog.Subscription, error) {
	// Subscribe before reading the backlog so nothing falls in between.
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: subscribe %s: %w", s.channel, err)
	}
	messages := pubsub.Channel()

	all, err := s.rdb.HGetAll(ctx, s.historyKey).Result()
	if err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: read %s: %w", s.historyKey, err)
	}
	seen := map[string]bool{}
	var backlog []revlog.Entry
	for id, value := range all {
		if id < fromID {
			continue
		}
		seen[id] = true
		backlog = append(backlog, revlog.Entry{ID: id, Record: decodeJSONRecord(id, []byte(value))})
	}
	slices.SortFunc(backlog, func(a, b revlog.Entry) int {
		return strings.Compare(a.ID, b.ID)
	})

	ctx, cancel := context.WithCancel(ctx)
	live := make(chan revlog.Entry, 64)
	go func() {
		defer close(live)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				var msg appendMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					glog.Warningf("[store] redis %s: bad message: %v", s.channel, err)
					continue
				}
				if msg.ID < fromID || seen[msg.ID] {
					continue
				}
				seen[msg.ID] = true
				select {
				case live <- revlog.Entry{ID: msg.ID, Record: decodeJSONRecord(msg.ID, msg.Record)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return revlog.NewSubscription(backlog, live, cancel), nil
}

func (s *RedisStore) ReadOnce(ctx context.Context, path string) ([]byte, error) {
	value, err := s.rdb.HGet(ctx, s.valuesKey, path).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, revlog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	return value, nil
}

func (s *RedisStore) Write(ctx context.Context, path string, value []byte) error {
	if err := s.rdb.HSet(ctx, s.valuesKey, path, value).Err(); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// decodeJSONRecord returns an empty record, which replay skips, when data
// is not a record.
func decodeJSONRecord(id string, data []byte) revlog.Record {
	var rec revlog.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		glog.Warningf("[store] revision %s: %v", id, err)
		return revlog.Record{}
	}
	return rec
}
