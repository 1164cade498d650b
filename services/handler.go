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

package services

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
)

// Handler defaults.
const (
	DefaultReadLimit    = 2048
	DefaultPreviewLimit = 128
	DefaultIdleTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// HandlerFunc configures a Handler.
type HandlerFunc func(*Handler)

func WithChannel(c pushers.Channel) HandlerFunc {
	return func(h *Handler) {
		h.c = c
	}
}

func WithReadLimit(n int) HandlerFunc {
	return func(h *Handler) {
		h.readLimit = n
	}
}

func WithPreviewLimit(n int) HandlerFunc {
	return func(h *Handler) {
		h.previewLimit = n
	}
}

func WithIdleTimeout(d time.Duration) HandlerFunc {
	return func(h *Handler) {
		h.idleTimeout = d
	}
}

// WithWriteTimeout bounds the banner write. Zero leaves the write unbounded.
func WithWriteTimeout(d time.Duration) HandlerFunc {
	return func(h *Handler) {
		h.writeTimeout = d
	}
}

// Handler runs the banner protocol for single connections: send the
// banner, read one bounded sample within the idle timeout, emit exactly one
// connection or error event and close. A Handler is safe for concurrent use;
// every call owns its connection exclusively.
type Handler struct {
	c pushers.Channel

	readLimit    int
	previewLimit int
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

// NewHandler returns a Handler with the default limits.
func NewHandler(options ...HandlerFunc) *Handler {
	h := &Handler{
		c:            pushers.MustDummy(),
		readLimit:    DefaultReadLimit,
		previewLimit: DefaultPreviewLimit,
		idleTimeout:  DefaultIdleTimeout,
		writeTimeout: DefaultWriteTimeout,
	}

	for _, fn := range options {
		fn(h)
	}

	if h.readLimit <= 0 {
		h.readLimit = DefaultReadLimit
	}

	if h.idleTimeout <= 0 {
		h.idleTimeout = DefaultIdleTimeout
	}

	return h
}

// Handle serves conn for the service def and closes it. It never panics and
// never returns an error; failures become error events.
func (h *Handler) Handle(conn net.Conn, def Definition) {
	defer h.close(conn, def)

	h.send(h.session(conn, def))
}

func (h *Handler) session(conn net.Conn, def Definition) (e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			e = event.New(
				event.ErrorEvent,
				event.Service(def.Name),
				event.DestinationPort(def.Port),
				event.Message("%+v", r),
				event.Stack(),
			)
		}
	}()

	src := event.SourceAddr(conn.RemoteAddr())

	if err := h.writeBanner(conn, def.Banner); err != nil {
		return failure(def, src, err)
	}

	data, err := h.read(conn)
	if err != nil {
		return failure(def, src, err)
	}

	return event.New(
		event.ConnectionEvent,
		event.Service(def.Name),
		event.DestinationPort(def.Port),
		src,
		event.Payload(data, h.previewLimit),
	)
}

func failure(def Definition, src event.Option, err error) event.Event {
	return event.New(
		event.ErrorEvent,
		event.Service(def.Name),
		event.DestinationPort(def.Port),
		src,
		event.Error(err),
	)
}

func (h *Handler) writeBanner(conn net.Conn, banner []byte) error {
	if h.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			return fmt.Errorf("error setting write deadline: %s", err.Error())
		}
	}

	for len(banner) > 0 {
		n, err := conn.Write(banner)
		if err != nil {
			return fmt.Errorf("error writing banner: %s", err.Error())
		}

		banner = banner[n:]
	}

	return nil
}

// read returns what the peer sent within the idle timeout. A peer that
// stays silent or hangs up without sending is not an error.
func (h *Handler) read(conn net.Conn) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.idleTimeout)); err != nil {
		return nil, fmt.Errorf("error setting read deadline: %s", err.Error())
	}

	buf := make([]byte, h.readLimit)

	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	} else if err == nil {
		return nil, nil
	} else if errors.Is(err, io.EOF) {
		return nil, nil
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil, nil
	}

	return nil, fmt.Errorf("error reading from peer: %s", err.Error())
}

func (h *Handler) send(e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Channel failed to accept event: %+v", r)
		}
	}()

	h.c.Send(e)
}

func (h *Handler) close(conn net.Conn, def Definition) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Error closing connection for %s: %+v", def, r)
		}
	}()

	if err := conn.Close(); err != nil {
		log.Debugf("Error closing connection for %s: %s", def, err.Error())
	}
}
