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
	"testing"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	m      sync.Mutex
	events []event.Event
	closed int
}

func (r *recorder) Send(e event.Event) {
	r.m.Lock()
	defer r.m.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) Close() error {
	r.m.Lock()
	defer r.m.Unlock()

	r.closed++
	return nil
}

func TestRegexFilterChannel(t *testing.T) {
	rec := &recorder{}

	fn, err := RegexFilterFunc("service", []string{"^ssh$", "^http"})
	if err != nil {
		t.Fatal(err)
	}

	c := FilterChannel(rec, fn)
	c.Send(event.New(event.ConnectionEvent, event.Service("ssh")))
	c.Send(event.New(event.ConnectionEvent, event.Service("telnet")))
	c.Send(event.New(event.ConnectionEvent, event.Service("https")))

	assert.Len(t, rec.events, 2)
}

func TestRegexFilterInvalid(t *testing.T) {
	_, err := RegexFilterFunc("service", []string{"("})
	assert.Error(t, err)
}

func TestTokenChannel(t *testing.T) {
	rec := &recorder{}

	orig := event.New(event.InitEvent)
	TokenChannel(rec, "sensor-1").Send(orig)

	assert.Len(t, rec.events, 1)
	assert.Equal(t, "sensor-1", rec.events[0].Get("token"))
	assert.False(t, orig.Has("token"))
}

func TestWrappersForwardClose(t *testing.T) {
	rec := &recorder{}

	fn, _ := RegexFilterFunc("event", []string{"."})
	c := TokenChannel(FilterChannel(rec, fn), "x")

	assert.NoError(t, closeChannel(c))
	assert.Equal(t, 1, rec.closed)
}

func TestQueueDeliversInOrder(t *testing.T) {
	var got []string

	q := NewQueue("test", 16, DefaultSendTimeout, func(e event.Event) {
		got = append(got, e.Get("service"))
	})

	for _, s := range []string{"a", "b", "c"} {
		q.Send(event.New(event.Service(s)))
	}

	assert.NoError(t, q.Close())
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestQueueDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var handled int32

	q := NewQueue("test", 1, 10*time.Millisecond, func(e event.Event) {
		<-release
		atomic.AddInt32(&handled, 1)
	})

	start := time.Now()
	for i := 0; i < 5; i++ {
		q.Send(event.New())
	}

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send blocked for %s", elapsed)
	}

	assert.True(t, q.Dropped() > 0)

	close(release)
	q.Close()

	assert.Equal(t, uint64(5), uint64(atomic.LoadInt32(&handled))+q.Dropped())
}

func TestQueueSendAfterClose(t *testing.T) {
	q := NewQueue("test", 1, 0, func(e event.Event) {})
	q.Close()
	q.Close()

	q.Send(event.New())
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestQueueRecoversPanics(t *testing.T) {
	var n int
	q := NewQueue("test", 4, DefaultSendTimeout, func(e event.Event) {
		n++
		if n == 1 {
			panic("boom")
		}
	})

	q.Send(event.New())
	q.Send(event.New())
	q.Close()

	assert.Equal(t, 2, n)
}

func TestGetUnknownReturnsDummy(t *testing.T) {
	fn, ok := Get("does-not-exist")
	assert.False(t, ok)

	c, err := fn()
	assert.NoError(t, err)
	c.Send(event.New())
}
