// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"errors"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/sirupsen/logrus"
)

// Publisher delivers snapshots to an external consumer
type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
	Close() error
}

// Multi fans a snapshot out to several publishers. Every publisher is
// attempted; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, s Snapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig connects every configured publisher. The result is empty when
// nothing is configured. On error, publishers connected so far are closed.
func FromConfig(ctx context.Context, cfg config.PublishConfig, log *logrus.Logger) (Multi, error) {
	var m Multi

	if cfg.MQTT.Broker != "" {
		p, err := NewMQTTPublisher(cfg.MQTT.Broker, cfg.MQTT.Topic, log)
		if err != nil {
			return nil, err
		}
		m = append(m, p)
	}

	if cfg.Redis.Addr != "" {
		p, err := NewRedisPublisher(ctx, cfg.Redis, log)
		if err != nil {
			m.Close()
			return nil, err
		}
		m = append(m, p)
	}

	return m, nil
}
