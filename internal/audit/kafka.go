// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes OutcomeEvents to a Kafka topic, keyed by ticket id
// so a downstream consumer sees per-ticket ordering. Idempotent production
// is enabled so producer retries cannot duplicate a record.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink dials brokers and returns a KafkaSink publishing to topic.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("gatekeeper/audit: kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

// Publish produces event as a single Kafka record, waiting for the broker
// acknowledgement before returning.
func (k *KafkaSink) Publish(ctx context.Context, event OutcomeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("gatekeeper/audit: marshal outcome event: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.TicketID),
		Value: value,
	}
	results := k.client.ProduceSync(ctx, record)
	return results.FirstErr()
}

// Close releases the underlying Kafka client.
func (k *KafkaSink) Close() error {
	k.client.Close()
	return nil
}
