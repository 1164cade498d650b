// Copyright 2016-2019 DutchSec (https://dutchsec.com/)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kafka

import (
	"errors"
	"sync"
	"sync/atomic"

	sarama "github.com/Shopify/sarama"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"

	logging "github.com/op/go-logging"
)

var (
	_ = pushers.Register("kafka", New)
)

var log = logging.MustGetLogger("bannertrap/channels/kafka")

// Config holds the kafka channel settings.
type Config struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Backend publishes every event as a JSON message on a kafka topic.
type Backend struct {
	Config

	producer sarama.AsyncProducer

	q    *pushers.Queue
	sent uint64
	once sync.Once
}

func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	c := Backend{}

	for _, optionFn := range options {
		if err := optionFn(&c); err != nil {
			return nil, err
		}
	}

	if len(c.Brokers) == 0 {
		return nil, errors.New("Kafka channel: brokers not set")
	}

	if c.Topic == "" {
		return nil, errors.New("Kafka channel: topic not set")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true

	producer, err := sarama.NewAsyncProducer(c.Brokers, config)
	if err != nil {
		return nil, err
	}

	c.producer = producer
	c.q = pushers.NewQueue("kafka", 100, pushers.DefaultSendTimeout, c.produce)

	return &c, nil
}

func (hc *Backend) produce(e event.Event) {
	data, err := e.MarshalJSON()
	if err != nil {
		log.Errorf("Error marshaling event: %s", err.Error())
		return
	}

	hc.producer.Input() <- &sarama.ProducerMessage{
		Topic: hc.Topic,
		Key:   nil,
		Value: sarama.ByteEncoder(data),
	}

	select {
	case <-hc.producer.Successes():
		atomic.AddUint64(&hc.sent, 1)
	case msg := <-hc.producer.Errors():
		log.Errorf("Error producing event to kafka: %s", msg.Err)
	}
}

// Send queues the event for the producer.
func (hc *Backend) Send(e event.Event) {
	hc.q.Send(e)
}

// Sent returns the number of events acknowledged by kafka.
func (hc *Backend) Sent() uint64 {
	return atomic.LoadUint64(&hc.sent)
}

// Close waits for queued events and shuts the producer down.
func (hc *Backend) Close() error {
	var err error

	hc.once.Do(func() {
		hc.q.Close()
		err = hc.producer.Close()
	})

	return err
}
