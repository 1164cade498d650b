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

package eventbus

import (
	"io"
	"sync"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	logging "github.com/op/go-logging"
	"go.uber.org/multierr"
)

var log = logging.MustGetLogger("bannertrap/eventbus")

// EventBus fans events out to every subscribed channel. It is the single
// sink shared by all listeners and connection handlers.
type EventBus struct {
	m           sync.RWMutex
	subscribers []pushers.Channel
}

// New returns a new instance of a EventBus.
func New() *EventBus {
	return &EventBus{}
}

// Subscribe adds the giving channel to the list of subscribers for the giving bus.
func (eb *EventBus) Subscribe(channel pushers.Channel) error {
	eb.m.Lock()
	defer eb.m.Unlock()

	eb.subscribers = append(eb.subscribers, channel)
	return nil
}

// Len returns the number of subscribers.
func (eb *EventBus) Len() int {
	eb.m.RLock()
	defer eb.m.RUnlock()

	return len(eb.subscribers)
}

// Send delivers e to all subscribers. A failing subscriber does not keep the
// event from the others.
func (eb *EventBus) Send(e event.Event) {
	eb.m.RLock()
	defer eb.m.RUnlock()

	for _, subscriber := range eb.subscribers {
		send(subscriber, e)
	}
}

func send(c pushers.Channel, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Channel %T panicked on send: %+v", c, r)
		}
	}()

	c.Send(e)
}

// Close closes every subscriber that implements io.Closer, flushing
// pending events.
func (eb *EventBus) Close() error {
	eb.m.Lock()
	defer eb.m.Unlock()

	var err error
	for _, subscriber := range eb.subscribers {
		if c, ok := subscriber.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}

	return err
}
