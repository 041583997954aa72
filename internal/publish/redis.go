// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"fmt"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// HistoryLen is the number of snapshots kept in the Redis history list
const HistoryLen = 1000

// RedisPublisher publishes snapshots on a pub/sub channel and keeps the
// most recent ones in a list
type RedisPublisher struct {
	client  *redis.Client
	channel string
	listKey string
	log     *logrus.Logger
}

func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("redis connected")

	return &RedisPublisher{
		client:  client,
		channel: cfg.Channel,
		listKey: cfg.Channel + ":history",
		log:     log,
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, s Snapshot) error {
	body, err := s.Encode()
	if err != nil {
		return err
	}

	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.LPush(ctx, p.listKey, body)
	pipe.LTrim(ctx, p.listKey, 0, HistoryLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warnf("failed to store snapshot history: %v", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
