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
	"net"
	"strconv"

	"github.com/honeytrap/bannertrap/pushers"
	"github.com/pkg/errors"
)

// Option configures a Listener.
type Option func(*Listener) error

// WithChannel sets the channel receiving start and accept failure events.
func WithChannel(c pushers.Channel) Option {
	return func(l *Listener) error {
		l.c = c
		return nil
	}
}

// WithAddress sets the local host to bind, all interfaces by default.
func WithAddress(host string) Option {
	return func(l *Listener) error {
		l.address = host
		return nil
	}
}

// WithListenAddress overrides both host and port of the bound socket.
// Events keep reporting the port of the service definition.
func WithListenAddress(addr string) Option {
	return func(l *Listener) error {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return errors.Wrapf(err, "invalid listen address %q", addr)
		}

		p, err := strconv.Atoi(port)
		if err != nil || p < 0 || p > 65535 {
			return errors.Errorf("invalid port in listen address %q", addr)
		}

		l.address = host
		l.port = p
		return nil
	}
}
