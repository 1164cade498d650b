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
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/honeytrap/bannertrap/listener"
	"github.com/honeytrap/bannertrap/pushers"
	"github.com/honeytrap/bannertrap/server/profiler"
	"github.com/honeytrap/bannertrap/services"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/rs/xid"
)

type OptionFn func(*Server) error

func WithMemoryProfiler() OptionFn {
	return func(s *Server) error {
		s.profiler = profiler.New(s.dataDir, profile.MemProfile)
		return nil
	}
}

func WithCPUProfiler() OptionFn {
	return func(s *Server) error {
		s.profiler = profiler.New(s.dataDir, profile.CPUProfile)
		return nil
	}
}

// WithConfig loads the configuration file at path.
func WithConfig(path string) (OptionFn, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return WithConfigReader(bytes.NewBuffer(data)), nil
}

// WithConfigReader loads the configuration from r.
func WithConfigReader(r io.Reader) OptionFn {
	return func(s *Server) error {
		return s.config.Load(r)
	}
}

// WithDataDir sets the directory holding the token, the default event log
// and profiles. It is created when missing.
func WithDataDir(dir string) (OptionFn, error) {
	p, err := expand(dir)
	if err != nil {
		return nil, err
	}

	p, err = filepath.Abs(p)
	if err != nil {
		return nil, err
	}

	if _, err = os.Stat(p); os.IsNotExist(err) {
		if err = os.MkdirAll(p, 0755); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return func(s *Server) error {
		s.dataDir = p
		return nil
	}, nil
}

func expand(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}

	usr, err := user.Current()
	if err != nil {
		return "", err
	}

	return filepath.Join(usr.HomeDir, path[1:]), nil
}

// WithToken stamps every event with the sensor token. The token is read
// from the data directory, or generated and stored there on first use.
// Apply it after WithDataDir.
func WithToken() OptionFn {
	return func(s *Server) error {
		uid := xid.New().String()

		if s.dataDir == "" {
			s.token = uid
			return nil
		}

		p := filepath.Join(s.dataDir, "token")

		if data, err := ioutil.ReadFile(p); err == nil {
			uid = strings.TrimSpace(string(data))
		} else if !os.IsNotExist(err) {
			return errors.Wrap(err, "error reading token")
		} else if err := ioutil.WriteFile(p, []byte(uid), 0600); err != nil {
			return errors.Wrap(err, "error writing token")
		}

		s.token = uid
		return nil
	}
}

// WithChannel subscribes c to every event.
func WithChannel(c pushers.Channel) OptionFn {
	return func(s *Server) error {
		s.channels = append(s.channels, c)
		return nil
	}
}

// WithRegistry replaces the configured services.
func WithRegistry(r *services.Registry) OptionFn {
	return func(s *Server) error {
		s.registry = r
		return nil
	}
}

// WithListenerOptions appends options to every listener started.
func WithListenerOptions(options ...listener.Option) OptionFn {
	return func(s *Server) error {
		s.listenerOptions = append(s.listenerOptions, options...)
		return nil
	}
}
