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

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/listener"
	"github.com/honeytrap/bannertrap/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanChannel chan event.Event

func (c chanChannel) Send(e event.Event) { c <- e }

var httpRegistry = services.MustRegistry(
	services.Definition{Name: "http", Port: 8081, Banner: services.HTTPBanner},
)

func fileConfig(t *testing.T, extra string) (string, OptionFn) {
	name := filepath.Join(t.TempDir(), "events.jsonl")

	return name, WithConfigReader(strings.NewReader(fmt.Sprintf(`
[channel.file]
type = "file"
filename = '%s'
%s
`, name, extra)))
}

func kinds(t *testing.T, name string) []string {
	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()

	result := []string{}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))

		result = append(result, m["event"].(string))
	}

	require.NoError(t, scanner.Err())
	return result
}

func next(t *testing.T, events chanChannel, kind string) event.Event {
	timeout := time.After(5 * time.Second)

	for {
		select {
		case e := <-events:
			if e.Kind() == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("No %s event received", kind)
			return event.Event{}
		}
	}
}

func waitRunning(t *testing.T, s *Server) {
	deadline := time.Now().Add(5 * time.Second)

	for s.State() != Running {
		if time.Now().After(deadline) {
			t.Fatalf("Server did not reach running state, state is %s", s.State())
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func runAsync(s *Server, ctx context.Context) chan error {
	result := make(chan error, 1)

	go func() {
		result <- s.Run(ctx)
	}()

	return result
}

func wait(t *testing.T, result chan error) error {
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}

	return nil
}

func TestRunServesHTTPBanner(t *testing.T) {
	events := make(chanChannel, 64)
	name, configFn := fileConfig(t, "")

	s, err := New(
		configFn,
		WithRegistry(httpRegistry),
		WithChannel(events),
		WithListenerOptions(listener.WithListenAddress("127.0.0.1:0")),
	)
	require.NoError(t, err)

	result := runAsync(s, context.Background())
	waitRunning(t, s)

	addr, ok := s.Addrs()["http"]
	require.True(t, ok)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)

	buf := make([]byte, len(services.HTTPBanner))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nServer: nginx\r\nContent-Length: 0\r\n\r\n", string(buf))

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	e := next(t, events, event.KindConnection)
	conn.Close()

	assert.Equal(t, "http", e.Get("service"))
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", e.Get("preview"))

	port, _ := e.Int("dst_port")
	assert.Equal(t, 8081, port)

	n, _ := e.Int("bytes_rx")
	assert.Equal(t, 18, n)

	s.Stop()
	s.Stop()

	require.NoError(t, wait(t, result))
	assert.Equal(t, Stopped, s.State())

	got := kinds(t, name)
	require.Equal(t, []string{"init", "start", "connection", "stop"}, got)
}

func TestRunFailsWhenNoListenerBinds(t *testing.T) {
	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	events := make(chanChannel, 64)
	_, configFn := fileConfig(t, "")

	s, err := New(
		configFn,
		WithRegistry(httpRegistry),
		WithChannel(events),
		WithListenerOptions(listener.WithListenAddress(held.Addr().String())),
	)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)

	var be *listener.BindError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "http", be.Service)

	assert.Equal(t, Stopped, s.State())

	assert.Equal(t, event.KindInit, next(t, events, event.KindInit).Kind())
	next(t, events, event.KindStop)
}

func TestStopBeforeRun(t *testing.T) {
	events := make(chanChannel, 64)
	_, configFn := fileConfig(t, "")

	s, err := New(
		configFn,
		WithRegistry(httpRegistry),
		WithChannel(events),
		WithListenerOptions(listener.WithListenAddress("127.0.0.1:0")),
	)
	require.NoError(t, err)

	s.Stop()

	require.NoError(t, wait(t, runAsync(s, context.Background())))
	assert.Equal(t, Stopped, s.State())

	assert.Equal(t, "honeypot starting", next(t, events, event.KindInit).Get("msg"))
	assert.Equal(t, "http", next(t, events, event.KindStart).Get("service"))
	next(t, events, event.KindStop)

	assert.Equal(t, ErrAlreadyStarted, s.Run(context.Background()))
}

func TestContextCancelStopsServer(t *testing.T) {
	_, configFn := fileConfig(t, "")

	s, err := New(
		configFn,
		WithRegistry(httpRegistry),
		WithListenerOptions(listener.WithListenAddress("127.0.0.1:0")),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	result := runAsync(s, ctx)
	waitRunning(t, s)

	cancel()

	require.NoError(t, wait(t, result))
	assert.Equal(t, Stopped, s.State())
}

func TestFilterByKind(t *testing.T) {
	name, configFn := fileConfig(t, `
[[filter]]
channel = ["file"]
kinds = ["^init$"]
`)

	s, err := New(
		configFn,
		WithRegistry(httpRegistry),
		WithListenerOptions(listener.WithListenAddress("127.0.0.1:0")),
	)
	require.NoError(t, err)

	s.Stop()
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"init"}, kinds(t, name))
}

func TestUnknownChannelType(t *testing.T) {
	s, err := New(
		WithConfigReader(strings.NewReader(`
[channel.foo]
type = "carrier-pigeon"
`)),
		WithRegistry(httpRegistry),
	)
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Equal(t, Stopped, s.State())
}

func TestConfiguredServicesReplaceDefaults(t *testing.T) {
	s, err := New(WithConfigReader(strings.NewReader(`
[service.ftp]
port = 2121
banner = "220 ProFTPD Server ready.\r\n"
`)))
	require.NoError(t, err)

	r, err := s.services()
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	def, ok := r.Get("ftp")
	require.True(t, ok)
	assert.Equal(t, uint16(2121), def.Port)
	assert.Equal(t, "220 ProFTPD Server ready.\r\n", string(def.Banner))
}

func TestDefaultServices(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	r, err := s.services()
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())
}

func TestTokenIsPersisted(t *testing.T) {
	dir := t.TempDir()

	dataDir, err := WithDataDir(dir)
	require.NoError(t, err)

	a, err := New(dataDir, WithToken())
	require.NoError(t, err)
	require.NotEmpty(t, a.token)

	b, err := New(dataDir, WithToken())
	require.NoError(t, err)
	assert.Equal(t, a.token, b.token)

	data, err := os.ReadFile(filepath.Join(dir, "token"))
	require.NoError(t, err)
	assert.Equal(t, a.token, string(data))
}

func TestTokenIsStamped(t *testing.T) {
	events := make(chanChannel, 64)
	_, configFn := fileConfig(t, "")

	s, err := New(
		configFn,
		WithToken(),
		WithRegistry(httpRegistry),
		WithChannel(events),
		WithListenerOptions(listener.WithListenAddress("127.0.0.1:0")),
	)
	require.NoError(t, err)

	s.Stop()
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, s.token, next(t, events, event.KindInit).Get("token"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(WithConfigReader(strings.NewReader(`
[listener]
read-limit = -1
`)))
	assert.Error(t, err)

	_, err = WithConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, os.IsNotExist(err))
}
