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

// Package listener binds one service port and hands every accepted
// connection to a handler on its own goroutine.
package listener

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	"github.com/honeytrap/bannertrap/services"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("bannertrap/listener")

// Handler serves a single accepted connection. Handle owns conn and must
// close it.
type Handler interface {
	Handle(conn net.Conn, def services.Definition)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(net.Conn, services.Definition)

func (fn HandlerFunc) Handle(conn net.Conn, def services.Definition) {
	fn(conn, def)
}

// BindError is returned when the port of a service cannot be acquired.
type BindError struct {
	Service string
	Port    uint16
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("could not bind %s on port %d: %s", e.Service, e.Port, e.Err.Error())
}

func (e *BindError) Unwrap() error {
	return e.Err
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

// Listener owns the socket of one service and its accept loop.
type Listener struct {
	def     services.Definition
	handler Handler
	c       pushers.Channel

	address string
	port    int

	ln net.Listener

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}

	conns sync.WaitGroup
}

// Listen binds the port of def and starts accepting connections. The
// listener stops when ctx is cancelled or Stop is called.
func Listen(ctx context.Context, def services.Definition, handler Handler, options ...Option) (*Listener, error) {
	l := &Listener{
		def:     def,
		handler: handler,
		c:       pushers.MustDummy(),
		port:    int(def.Port),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	for _, optionFn := range options {
		if err := optionFn(l); err != nil {
			return nil, err
		}
	}

	lc := net.ListenConfig{
		Control: control,
	}

	addr := net.JoinHostPort(l.address, strconv.Itoa(l.port))

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &BindError{
			Service: def.Name,
			Port:    def.Port,
			Err:     err,
		}
	}

	l.ln = ln

	log.Infof("Listener %s started on %s", def.Name, ln.Addr().String())

	l.c.Send(event.New(
		event.StartEvent,
		event.Service(def.Name),
		event.Port(def.Port),
	))

	go l.serve()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopped:
		}
	}()

	return l, nil
}

// Definition returns the service this listener serves.
func (l *Listener) Definition() services.Definition {
	return l.def
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) serve() {
	defer close(l.done)

	var delay time.Duration

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.stopped:
				return
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if delay == 0 {
					delay = minAcceptDelay
				} else if delay *= 2; delay > maxAcceptDelay {
					delay = maxAcceptDelay
				}

				log.Warningf("Accept error on %s, retrying in %s: %s", l.def.Name, delay, err.Error())

				select {
				case <-time.After(delay):
				case <-l.stopped:
					return
				}

				continue
			}

			log.Errorf("Listener %s stopped accepting: %s", l.def.Name, err.Error())

			l.c.Send(event.New(
				event.ErrorEvent,
				event.Service(l.def.Name),
				event.Port(l.def.Port),
				event.Error(err),
			))
			return
		}

		delay = 0

		l.conns.Add(1)

		go func(conn net.Conn, def services.Definition) {
			defer l.conns.Done()

			l.handler.Handle(conn, def)
		}(conn, l.def)
	}
}

// Stop closes the socket and waits for the accept loop to exit. Connections
// already accepted keep running; use Wait for them. Stop is idempotent.
func (l *Listener) Stop() error {
	var err error

	l.stopOnce.Do(func() {
		close(l.stopped)

		err = l.ln.Close()
	})

	<-l.done
	return err
}

// Wait blocks until the listener is stopped and every connection it
// accepted has been handled.
func (l *Listener) Wait() {
	<-l.done

	l.conns.Wait()
}
