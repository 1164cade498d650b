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

package elasticsearch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	logging "github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"
	elastic "gopkg.in/olivere/elastic.v5"
)

var (
	_ = pushers.Register("elasticsearch", New)
)

var log = logging.MustGetLogger("bannertrap/channels/elasticsearch")

const (
	defaultType      = "event"
	defaultQueueSize = 100
	requestTimeout   = 30 * time.Second
)

// Backend indexes every event as a document.
type Backend struct {
	Config

	client *elastic.Client
	index  string

	q       *pushers.Queue
	indexed uint64
	once    sync.Once
}

func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	c := Backend{
		Config: Config{
			Type:      defaultType,
			QueueSize: defaultQueueSize,
		},
	}

	for _, optionFn := range options {
		if err := optionFn(&c); err != nil {
			return nil, err
		}
	}

	clientOptions, index, err := c.Config.options()
	if err != nil {
		return nil, err
	}

	client, err := elastic.NewClient(clientOptions...)
	if err != nil {
		return nil, err
	}

	c.client = client
	c.index = index
	c.q = pushers.NewQueue("elasticsearch", c.QueueSize, pushers.DefaultSendTimeout, c.store)

	return &c, nil
}

// WithURL sets the url of the cluster including the index path.
func WithURL(u string) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*Backend).URL = u
		return nil
	}
}

func (b *Backend) store(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	id := uuid.NewV4()

	if _, err := b.client.Index().
		Index(b.index).
		Type(b.Type).
		Id(id.String()).
		BodyJson(event.ToMap(e)).
		Do(ctx); err != nil {
		log.Errorf("Error indexing event: %s", err.Error())
		return
	}

	atomic.AddUint64(&b.indexed, 1)
}

// Send queues the event for indexing.
func (b *Backend) Send(e event.Event) {
	b.q.Send(e)
}

// Indexed returns the number of documents accepted by the cluster.
func (b *Backend) Indexed() uint64 {
	return atomic.LoadUint64(&b.indexed)
}

// Close indexes the queued events and stops the client.
func (b *Backend) Close() error {
	b.once.Do(func() {
		b.q.Close()
		b.client.Stop()
	})

	return nil
}
