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
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/honeytrap/bannertrap/cmd"
	"github.com/honeytrap/bannertrap/config"
	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/listener"
	"github.com/honeytrap/bannertrap/pushers"
	"github.com/honeytrap/bannertrap/pushers/eventbus"
	"github.com/honeytrap/bannertrap/server/profiler"
	"github.com/honeytrap/bannertrap/services"
	"github.com/mattn/go-isatty"
	logging "github.com/op/go-logging"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var log = logging.MustGetLogger("bannertrap/server")

var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNoServices     = errors.New("no services configured")
)

// State is the lifecycle stage of a Server.
type State int32

const (
	Starting State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Server supervises one listener per service and owns the event bus every
// listener and connection handler reports to.
type Server struct {
	config *config.Config

	profiler profiler.Profiler

	bus *eventbus.EventBus

	registry *services.Registry

	channels        []pushers.Channel
	listenerOptions []listener.Option

	token string

	dataDir string

	m         sync.Mutex
	state     State
	started   bool
	listeners []*listener.Listener

	stopOnce sync.Once
	stop     chan struct{}
}

// New returns a Server with the default configuration, modified by options.
func New(options ...OptionFn) (*Server, error) {
	s := &Server{
		config:   config.New(),
		bus:      eventbus.New(),
		profiler: profiler.Dummy(),
		stop:     make(chan struct{}),
	}

	for _, fn := range options {
		if err := fn(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// State returns the current lifecycle stage.
func (s *Server) State() State {
	s.m.Lock()
	defer s.m.Unlock()

	return s.state
}

func (s *Server) setState(state State) {
	s.m.Lock()
	defer s.m.Unlock()

	log.Debugf("Server state %s -> %s", s.state, state)
	s.state = state
}

// Addrs returns the bound address of every running listener keyed by
// service name.
func (s *Server) Addrs() map[string]net.Addr {
	s.m.Lock()
	defer s.m.Unlock()

	addrs := map[string]net.Addr{}
	for _, l := range s.listeners {
		addrs[l.Definition().Name] = l.Addr()
	}

	return addrs
}

// Stop requests shutdown of a running server. It returns immediately and
// may be called any number of times, also before Run.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if isatty.IsTerminal(f.Fd()) {
		return true
	} else if isatty.IsCygwinTerminal(f.Fd()) {
		return true
	}

	return false
}

func (s *Server) services() (*services.Registry, error) {
	if s.registry != nil {
		return s.registry, nil
	}

	if len(s.config.Services) == 0 {
		return services.Default(), nil
	}

	defs := []services.Definition{}
	for name, sc := range s.config.Services {
		defs = append(defs, services.Definition{
			Name:   name,
			Port:   uint16(sc.Port),
			Banner: []byte(sc.Banner),
		})
	}

	return services.NewRegistry(defs...)
}

func (s *Server) handler() *services.Handler {
	l := s.config.Listener

	return services.NewHandler(
		services.WithChannel(s.bus),
		services.WithReadLimit(l.ReadLimit),
		services.WithPreviewLimit(l.PreviewLimit),
		services.WithIdleTimeout(l.IdleTimeout.Duration()),
		services.WithWriteTimeout(l.WriteTimeout.Duration()),
	)
}

// Run starts a listener for every service and blocks until ctx is done or
// Stop is called. It then stops accepting, waits for connections in flight
// and flushes the channels. Run returns an error when the server could not
// start or when no listener could bind its port; a partial bind failure is
// logged only.
func (s *Server) Run(ctx context.Context) error {
	s.m.Lock()
	if s.started {
		s.m.Unlock()
		return ErrAlreadyStarted
	}

	s.started = true
	s.m.Unlock()

	if IsTerminal(os.Stdout) {
		fmt.Println(color.YellowString("Bannertrap starting (%s)...", s.token))
		fmt.Println(color.YellowString("Version: %s (%s)", cmd.Version, cmd.ShortCommitID))
	}

	log.Debugf("Using datadir: %s", s.dataDir)

	s.profiler.Start()
	defer s.profiler.Stop()

	registry, err := s.services()
	if err != nil {
		s.setState(Stopped)
		return err
	}

	if err := s.setupChannels(); err != nil {
		s.setState(Stopped)
		return err
	}

	s.bus.Send(event.New(
		event.InitEvent,
		event.Message("honeypot starting"),
	))

	handler := s.handler()

	var errs error

	for _, def := range registry.Definitions() {
		options := append([]listener.Option{
			listener.WithChannel(s.bus),
			listener.WithAddress(s.config.Listener.Address),
		}, s.listenerOptions...)

		l, err := listener.Listen(ctx, def, handler, options...)
		if err != nil {
			log.Errorf("Error starting listener: %s", err.Error())

			errs = multierr.Append(errs, err)
			continue
		}

		s.m.Lock()
		s.listeners = append(s.listeners, l)
		s.m.Unlock()
	}

	if len(s.listeners) == 0 {
		if errs == nil {
			errs = ErrNoServices
		}

		fmt.Fprintln(os.Stderr, color.RedString("No listener could be started: %s", errs.Error()))

		s.shutdown()
		return errs
	} else if errs != nil {
		log.Warningf("Started %d of %d listeners", len(s.listeners), registry.Len())
	}

	s.setState(Running)

	select {
	case <-ctx.Done():
	case <-s.stop:
	}

	s.setState(Stopping)

	for _, l := range s.listeners {
		if err := l.Stop(); err != nil {
			log.Debugf("Error closing listener %s: %s", l.Definition().Name, err.Error())
		}
	}

	for _, l := range s.listeners {
		l.Wait()
	}

	s.shutdown()

	if IsTerminal(os.Stdout) {
		fmt.Println(color.YellowString("Bannertrap stopped."))
	}

	return nil
}

// shutdown emits the final event and flushes every channel.
func (s *Server) shutdown() {
	s.bus.Send(event.New(event.StopEvent))

	if err := s.bus.Close(); err != nil {
		log.Errorf("Error closing channels: %s", err.Error())
	}

	s.setState(Stopped)
}
