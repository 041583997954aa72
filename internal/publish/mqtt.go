// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTPublisher publishes CBOR snapshots to a single topic
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	log    *logrus.Logger
}

// NewMQTTPublisher connects to broker (tcp://host:1883) with a random
// client id
func NewMQTTPublisher(broker, topic string, log *logrus.Logger) (*MQTTPublisher, error) {
	clientID := "amplistat-" + uuid.NewString()[:8]
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetAutoReconnect(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(mqttConnectTimeout); !ok {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s failed: %w", broker, err)
	}

	log.WithFields(logrus.Fields{"broker": broker, "client_id": clientID}).Info("mqtt connected")
	return &MQTTPublisher{client: client, topic: topic, log: log}, nil
}

// Publish sends the snapshot with QoS 0. The context bounds the wait for
// the publish token.
func (p *MQTTPublisher) Publish(ctx context.Context, s Snapshot) error {
	body, err := s.Encode()
	if err != nil {
		return err
	}

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	tok := p.client.Publish(p.topic, 0, false, body)
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish to %s timed out", p.topic)
	}
	return tok.Error()
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
