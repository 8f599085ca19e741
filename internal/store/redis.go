// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// redis.go — Redis snapshot store for exchanging machine states between
// processes: payload and metadata under paired keys, optional TTL so
// exchanged states expire on their own.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis store.
type RedisOptions struct {
	Client redis.UniversalClient
	// KeyPrefix namespaces this store's keys; defaults to "amber".
	KeyPrefix string
	// TTL, when positive, expires snapshots that long after Put.
	TTL time.Duration
}

// Redis stores snapshots in Redis, payload and metadata under paired
// keys written in one transactional pipeline.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Store = (*Redis)(nil)

// NewRedis wraps an existing client. The store does not own the client;
// Close leaves it open for the caller.
func NewRedis(opts RedisOptions) *Redis {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "amber"
	}
	return &Redis{client: opts.Client, prefix: prefix, ttl: opts.TTL}
}

func (r *Redis) payloadKey(name string) string { return r.prefix + ":snap:" + name }
func (r *Redis) metaKey(name string) string    { return r.prefix + ":meta:" + name }

func (r *Redis) Put(ctx context.Context, name string, e Entry) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, r.payloadKey(name), e.Payload, r.ttl)
		p.Set(ctx, r.metaKey(name), e.Meta, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", name, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, name string) (Entry, error) {
	payload, err := r.client.Get(ctx, r.payloadKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("redis get %s: %w", name, err)
	}
	meta, err := r.client.Get(ctx, r.metaKey(name)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, fmt.Errorf("redis get %s meta: %w", name, err)
	}
	return Entry{Payload: payload, Meta: meta}, nil
}

func (r *Redis) List(ctx context.Context) ([]string, error) {
	pattern := r.payloadKey("*")
	cut := r.payloadKey("")
	var names []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), cut))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	return names, nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	n, err := r.client.Del(ctx, r.payloadKey(name), r.metaKey(name)).Result()
	if err != nil {
		return fmt.Errorf("redis delete %s: %w", name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Close() error { return nil }
