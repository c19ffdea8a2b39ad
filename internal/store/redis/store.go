// Package redis is a ContentStore backed by Redis. Values are JSON encoded
// with sonic and compressed with zstd.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	goredis "github.com/redis/go-redis/v9"

	"github.com/GriffinCanCode/feedmodel/internal/domain/feed"
	"github.com/GriffinCanCode/feedmodel/internal/store"
)

// DefaultPrefix is the key namespace used when none is configured.
const DefaultPrefix = "feed"

// Store implements store.ContentStore on Redis.
type Store struct {
	client  *goredis.Client
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

var _ store.ContentStore = (*Store)(nil)

// New connects to the Redis server at url and checks it is reachable.
func New(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, prefix)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) (*Store, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Store{client: client, prefix: prefix, encoder: encoder, decoder: decoder}, nil
}

func (s *Store) payloadKey(id string) string { return s.prefix + ":payload:" + id }
func (s *Store) headKey() string             { return s.prefix + ":head" }
func (s *Store) pageKey(token []byte) string { return s.prefix + ":page:" + store.PageKey(token) }

func (s *Store) encode(v any) ([]byte, error) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Store) decode(data []byte, v any) error {
	raw, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress value: %w", err)
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// PutPayloads implements store.ContentStore.
func (s *Store) PutPayloads(ctx context.Context, payloads []feed.PayloadWithID) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, p := range payloads {
		data, err := s.encode(p)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.payloadKey(p.ContentID), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save payloads: %w", err)
	}
	return nil
}

// Payloads implements store.ContentStore.
func (s *Store) Payloads(ctx context.Context, ids []string) ([]feed.PayloadWithID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.payloadKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load payloads: %w", err)
	}

	out := make([]feed.PayloadWithID, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p feed.PayloadWithID
		if err := s.decode([]byte(str), &p); err != nil {
			return nil, fmt.Errorf("payload %s: %w", ids[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) setStructures(ctx context.Context, key string, structures []feed.StreamStructure) error {
	data, err := s.encode(structures)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) structures(ctx context.Context, key string) ([]feed.StreamStructure, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	var out []feed.StreamStructure
	if err := s.decode(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetHead implements store.ContentStore.
func (s *Store) SetHead(ctx context.Context, structures []feed.StreamStructure) error {
	return s.setStructures(ctx, s.headKey(), structures)
}

// Head implements store.ContentStore.
func (s *Store) Head(ctx context.Context) ([]feed.StreamStructure, error) {
	return s.structures(ctx, s.headKey())
}

// PutPage implements store.ContentStore.
func (s *Store) PutPage(ctx context.Context, token []byte, structures []feed.StreamStructure) error {
	return s.setStructures(ctx, s.pageKey(token), structures)
}

// Page implements store.ContentStore.
func (s *Store) Page(ctx context.Context, token []byte) ([]feed.StreamStructure, error) {
	return s.structures(ctx, s.pageKey(token))
}

// SharedState implements store.ContentStore.
func (s *Store) SharedState(ctx context.Context, id string) (*feed.StreamSharedState, error) {
	payloads, err := s.Payloads(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 || payloads[0].SharedState == nil {
		return nil, store.ErrNotFound
	}
	return payloads[0].SharedState, nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the codecs and the connection.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.client.Close()
}
