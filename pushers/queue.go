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

package pushers

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"golang.org/x/time/rate"
)

// DefaultSendTimeout bounds how long Send waits when a queue is full.
const DefaultSendTimeout = 100 * time.Millisecond

// Queue hands events from many concurrent senders to a single consumer
// goroutine, so a backend writes one whole record at a time. A full queue
// makes Send wait at most the configured timeout before the event is
// dropped.
type Queue struct {
	name    string
	ch      chan event.Event
	timeout time.Duration

	m      sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}

	dropped uint64
	warn    *rate.Limiter
}

// NewQueue starts a consumer goroutine calling fn for every queued event.
func NewQueue(name string, size int, timeout time.Duration, fn func(event.Event)) *Queue {
	if size <= 0 {
		size = 1
	}

	q := &Queue{
		name:    name,
		ch:      make(chan event.Event, size),
		timeout: timeout,
		done:    make(chan struct{}),
		warn:    rate.NewLimiter(rate.Every(10*time.Second), 1),
	}

	go q.run(fn)
	return q
}

func (q *Queue) run(fn func(event.Event)) {
	defer close(q.done)

	for e := range q.ch {
		q.consume(fn, e)
	}
}

func (q *Queue) consume(fn func(event.Event), e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Channel %s failed to handle event: %+v", q.name, r)
		}
	}()

	fn(e)
}

// Send queues e. It never blocks longer than the queue timeout.
func (q *Queue) Send(e event.Event) {
	q.m.RLock()
	defer q.m.RUnlock()

	if q.closed {
		q.drop("channel closed")
		return
	}

	select {
	case q.ch <- e:
		return
	default:
	}

	if q.timeout <= 0 {
		q.drop("queue full")
		return
	}

	t := time.NewTimer(q.timeout)
	defer t.Stop()

	select {
	case q.ch <- e:
	case <-t.C:
		q.drop("queue full")
	}
}

func (q *Queue) drop(reason string) {
	n := atomic.AddUint64(&q.dropped, 1)

	if q.warn.Allow() {
		log.Warningf("Channel %s dropped event (%s), %d dropped so far", q.name, reason, n)
	}
}

// Dropped returns the number of events that could not be queued.
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

// Close stops accepting events and waits until the consumer handled every
// queued event. It is safe to call more than once.
func (q *Queue) Close() error {
	q.once.Do(func() {
		q.m.Lock()
		q.closed = true
		close(q.ch)
		q.m.Unlock()
	})

	<-q.done
	return nil
}
