// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package publisher forwards persisted readings to an MQTT broker.
package publisher

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/metrics"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
)

const (
	// duplicateWindow is how long an unchanged measurement stays suppressed.
	duplicateWindow = 10 * time.Second
	publishTimeout  = 5 * time.Second
	qos             = 2
)

// Client is the part of MQTT.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	client Client
	topic  string
	seen   *gocache.Cache
	log    *zap.SugaredLogger
}

// Connect dials the broker and returns a publisher for topic.
func Connect(brokerURL string, clientID string, topic string) (*Publisher, error) {
	log := logger.For(logger.ComponentPublisher)

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(c MQTT.Client) {
		optionsReader := c.OptionsReader()
		log.Infof("Connected to MQTT broker as %s", optionsReader.ClientID())
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		log.Warnf("Connection to MQTT broker lost, reconnecting: %v", err)
	})

	client := MQTT.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("timed out connecting to %s", brokerURL)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", brokerURL, err)
	}

	return New(client, topic), nil
}

func New(client Client, topic string) *Publisher {
	log := logger.For(logger.ComponentPublisher)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Publisher{
		client: client,
		topic:  topic,
		seen:   gocache.New(duplicateWindow, 2*duplicateWindow),
		log:    log,
	}
}

// PublishReading sends reading without store metadata. A reading whose
// measured values were already sent within the duplicate window is skipped,
// so overwritten readings do not flood the broker. It reports whether a
// message went out.
func (p *Publisher) PublishReading(reading models.Reading) (bool, error) {
	reading.ID = ""
	reading.Seq = 0

	key := p.fingerprint(reading)
	if _, found := p.seen.Get(key); found {
		p.log.Debugf("Skipping unchanged reading for topic %s", p.topic)

		return false, nil
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return false, fmt.Errorf("failed to encode reading: %w", err)
	}

	token := p.client.Publish(p.topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		metrics.IncErrorCount(metrics.ComponentPublisher, p.topic)

		return false, fmt.Errorf("timed out publishing to %s", p.topic)
	}

	if err := token.Error(); err != nil {
		metrics.IncErrorCount(metrics.ComponentPublisher, p.topic)

		return false, fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}

	p.seen.SetDefault(key, nil)

	return true, nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// fingerprint hashes the measured values. The display time is left out.
func (p *Publisher) fingerprint(reading models.Reading) string {
	reading.Timestamp = ""

	data, err := json.Marshal(reading)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%s%d", p.topic, xxh3.Hash(data))
}
