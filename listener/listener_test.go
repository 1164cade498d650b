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

package listener

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanChannel chan event.Event

func (c chanChannel) Send(e event.Event) { c <- e }

var httpDef = services.Definition{Name: "http", Port: 8081, Banner: services.HTTPBanner}

func next(t *testing.T, events chanChannel) event.Event {
	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("No event received")
	}

	return event.Event{}
}

func listen(t *testing.T, ctx context.Context, handler Handler, events chanChannel) *Listener {
	l, err := Listen(ctx, httpDef, handler,
		WithChannel(events),
		WithListenAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)

	t.Cleanup(func() { l.Stop() })

	return l
}

func TestListenServesBanner(t *testing.T) {
	events := make(chanChannel, 16)

	h := services.NewHandler(services.WithChannel(events))
	l := listen(t, context.Background(), h, events)

	start := next(t, events)
	assert.Equal(t, event.KindStart, start.Kind())
	assert.Equal(t, "http", start.Get("service"))

	port, ok := start.Int("port")
	assert.True(t, ok)
	assert.Equal(t, 8081, port)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	buf := make([]byte, len(services.HTTPBanner))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(services.HTTPBanner, buf))

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	e := next(t, events)
	conn.Close()

	assert.Equal(t, event.KindConnection, e.Kind())
	assert.Equal(t, "http", e.Get("service"))
	assert.Equal(t, "127.0.0.1", e.Get("src_ip"))
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", e.Get("preview"))

	n, _ := e.Int("bytes_rx")
	assert.Equal(t, 18, n)

	dst, _ := e.Int("dst_port")
	assert.Equal(t, 8081, dst)

	require.NoError(t, l.Stop())
	l.Wait()
}

func TestStopIsIdempotent(t *testing.T) {
	events := make(chanChannel, 16)

	l := listen(t, context.Background(), services.NewHandler(), events)
	addr := l.Addr().String()

	assert.NoError(t, l.Stop())
	assert.NoError(t, l.Stop())

	l.Wait()

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
}

func TestContextCancelStopsListener(t *testing.T) {
	events := make(chanChannel, 16)

	ctx, cancel := context.WithCancel(context.Background())
	l := listen(t, ctx, services.NewHandler(), events)

	cancel()

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Listener did not stop after cancel")
	}
}

func TestPortInUse(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	events := make(chanChannel, 16)

	_, err = Listen(context.Background(), httpDef, services.NewHandler(),
		WithChannel(events),
		WithListenAddress(held.Addr().String()),
	)
	require.Error(t, err)

	var be *BindError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "http", be.Service)
	assert.Equal(t, uint16(8081), be.Port)
	assert.Contains(t, err.Error(), "http")

	assert.Len(t, events, 0)
}

func TestInvalidListenAddress(t *testing.T) {
	_, err := Listen(context.Background(), httpDef, services.NewHandler(), WithListenAddress("localhost"))
	assert.Error(t, err)

	_, err = Listen(context.Background(), httpDef, services.NewHandler(), WithListenAddress("127.0.0.1:70000"))
	assert.Error(t, err)
}

func TestSilentPeerDoesNotBlockAccept(t *testing.T) {
	events := make(chanChannel, 16)

	h := services.NewHandler(
		services.WithChannel(events),
		services.WithIdleTimeout(time.Minute),
	)

	l := listen(t, context.Background(), h, events)
	next(t, events)

	silent, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, len(services.HTTPBanner))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)

	e := next(t, events)
	assert.Equal(t, event.KindConnection, e.Kind())
	assert.Equal(t, "x", e.Get("preview"))

	conn.Close()
}

func TestWaitForInFlightHandlers(t *testing.T) {
	events := make(chanChannel, 16)

	release := make(chan struct{})
	entered := make(chan struct{})

	h := HandlerFunc(func(conn net.Conn, def services.Definition) {
		defer conn.Close()

		close(entered)
		<-release
	})

	l := listen(t, context.Background(), h, events)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("Handler was not invoked")
	}

	require.NoError(t, l.Stop())

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned while a handler was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Wait did not return after the handler finished")
	}
}
