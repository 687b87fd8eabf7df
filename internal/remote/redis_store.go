package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

// RedisStore keeps each document in a hash. A partition is a JSON
// object under its dotted field name with a sibling version counter,
// and every write publishes the changed field on the document channel.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: "cadence:", logger: logger}
}

// key maps "project/abc" to "cadence:project:abc".
func (s *RedisStore) key(document string) string {
	return s.prefix + strings.ReplaceAll(document, "/", ":")
}

func (s *RedisStore) channel(document string) string {
	return s.key(document) + ":changes"
}

func versionField(field string) string {
	return "version." + field
}

func (s *RedisStore) Read(ctx context.Context, path Path) (Snapshot, error) {
	values, err := s.client.HMGet(ctx, s.key(path.Document()), path.Field(), versionField(path.Field())).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return snapshotFromValues(path, values)
}

func snapshotFromValues(path Path, values []any) (Snapshot, error) {
	snap := Snapshot{Path: path, Entries: Entries{}, ReadAt: time.Now()}
	if len(values) > 0 {
		if raw, ok := values[0].(string); ok {
			entries, err := decodeEntries([]byte(raw))
			if err != nil {
				return Snapshot{}, fmt.Errorf("read %s: %w", path, err)
			}
			snap.Entries = entries
		}
	}
	if len(values) > 1 {
		if raw, ok := values[1].(string); ok {
			version, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				snap.Version = version
			}
		}
	}
	return snap, nil
}

func (s *RedisStore) Write(ctx context.Context, path Path, entries Entries) error {
	payload, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	key := s.key(path.Document())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, path.Field(), payload)
		pipe.HIncrBy(ctx, key, versionField(path.Field()), 1)
		pipe.Publish(ctx, s.channel(path.Document()), path.Field())
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Update is an optimistic read-modify-write: the hash is WATCHed while
// fn runs and the transaction is retried if another writer commits in
// between.
func (s *RedisStore) Update(ctx context.Context, path Path, fn func(Entries) (Entries, error)) error {
	key := s.key(path.Document())
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, path.Field()).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read %s: %w", path, err)
		}
		current, err := decodeEntries(raw)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		payload, err := encodeEntries(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, path.Field(), payload)
			pipe.HIncrBy(ctx, key, versionField(path.Field()), 1)
			pipe.Publish(ctx, s.channel(path.Document()), path.Field())
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("partition update conflict, retrying",
				slog.String("path", path.String()),
				slog.Int("attempt", attempt+1))
			continue
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	return fmt.Errorf("update %s: %w", path, ErrConflict)
}

func (s *RedisStore) UpdateFields(ctx context.Context, document string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	key := s.key(document)
	values := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		if strings.HasPrefix(field, "imageMetadata.") {
			return fmt.Errorf("update fields %s: %s is a partition, not a scalar field", document, field)
		}
		encoded, err := scalarValue(value)
		if err != nil {
			return fmt.Errorf("update fields %s: %s: %w", document, field, err)
		}
		values = append(values, field, encoded)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		for field := range fields {
			pipe.Publish(ctx, s.channel(document), field)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update fields %s: %w", document, err)
	}
	return nil
}

// Field reads a scalar field written by UpdateFields.
func (s *RedisStore) Field(ctx context.Context, document, field string) (string, error) {
	value, err := s.client.HGet(ctx, s.key(document), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read field %s.%s: %w", document, field, err)
	}
	return value, nil
}

func scalarValue(value any) (any, error) {
	switch v := value.(type) {
	case string, int, int64, float64, bool:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(payload), nil
	}
}

func (s *RedisStore) Subscribe(ctx context.Context, path Path) (<-chan Snapshot, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(path.Document()))
	// Wait for the subscription to be confirmed so no change published
	// after the initial read is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	initial, err := s.Read(ctx, path)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Snapshot)
	go func() {
		defer close(out)
		defer pubsub.Close()

		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				if msg.Payload != path.Field() {
					continue
				}
				snap, err := s.Read(ctx, path)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("snapshot read failed",
						slog.String("path", path.String()),
						slog.Any("error", err))
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
