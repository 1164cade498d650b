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

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("bannertrap/config")

var format = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{module} ▶ %{level:.4s} %{id:03x} %{message}%{color:reset}",
)

// Listener defaults.
const (
	DefaultAddress      = "0.0.0.0"
	DefaultReadLimit    = 2048
	DefaultPreviewLimit = 128
	DefaultIdleTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Config is the decoded configuration file. Channel and filter sections
// stay primitive until the channel type they configure is known.
type Config struct {
	toml.MetaData

	Listener Listener `toml:"listener"`

	Services map[string]Service       `toml:"service"`
	Channels map[string]toml.Primitive `toml:"channel"`

	Filters []toml.Primitive `toml:"filter"`

	Logging []Logging `toml:"logging"`
}

// Listener holds the settings shared by every service listener.
type Listener struct {
	Address      string `toml:"address"`
	ReadLimit    int    `toml:"read-limit"`
	PreviewLimit int    `toml:"preview-limit"`
	IdleTimeout  Delay  `toml:"idle-timeout"`
	WriteTimeout Delay  `toml:"write-timeout"`
}

// Service configures the port and banner of one service.
type Service struct {
	Port   int    `toml:"port"`
	Banner string `toml:"banner"`
}

type Logging struct {
	Output string `toml:"output"`
	Level  string `toml:"level"`
}

// New returns the default configuration and installs the default logging
// backend (stderr, INFO).
func New() *Config {
	c := &Config{
		Listener: Listener{
			Address:      DefaultAddress,
			ReadLimit:    DefaultReadLimit,
			PreviewLimit: DefaultPreviewLimit,
			IdleTimeout:  Delay(DefaultIdleTimeout),
			WriteTimeout: Delay(DefaultWriteTimeout),
		},
	}

	if err := SetupLogging([]Logging{{Output: "stderr", Level: "info"}}); err != nil {
		panic(err)
	}

	return c
}

// Load decodes the toml document in r on top of the current values.
func (c *Config) Load(r io.Reader) error {
	md, err := toml.DecodeReader(r, c)
	if err != nil {
		return errors.Wrap(err, "error parsing configuration")
	}

	c.MetaData = md

	if len(c.Logging) != 0 {
		if err := SetupLogging(c.Logging); err != nil {
			return err
		}
	}

	return c.Validate()
}

// Validate checks the listener limits.
func (c *Config) Validate() error {
	l := c.Listener

	if l.ReadLimit <= 0 {
		return fmt.Errorf("listener read-limit must be positive, got %d", l.ReadLimit)
	}

	if l.PreviewLimit < 0 {
		return fmt.Errorf("listener preview-limit must not be negative, got %d", l.PreviewLimit)
	}

	if l.IdleTimeout.Duration() <= 0 {
		return fmt.Errorf("listener idle-timeout must be positive, got %s", l.IdleTimeout.Duration())
	}

	if l.WriteTimeout.Duration() < 0 {
		return fmt.Errorf("listener write-timeout must not be negative, got %s", l.WriteTimeout.Duration())
	}

	for name, s := range c.Services {
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("service %s: port %d out of range", name, s.Port)
		}
	}

	return nil
}

// PrimitiveDecode decodes a primitive section. Without a loaded document
// there is nothing to decode.
func (c *Config) PrimitiveDecode(primValue toml.Primitive, v interface{}) error {
	return c.MetaData.PrimitiveDecode(primValue, v)
}

// SetupLogging replaces the go-logging backends.
func SetupLogging(outputs []Logging) error {
	var logBackends []logging.Backend

	for _, l := range outputs {
		var output io.Writer

		switch l.Output {
		case "stdout":
			output = os.Stdout
		case "stderr", "":
			output = os.Stderr
		default:
			f, err := os.OpenFile(os.ExpandEnv(l.Output), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0660)
			if err != nil {
				return errors.Wrapf(err, "error opening log output %s", l.Output)
			}

			output = f
		}

		backend := logging.NewLogBackend(output, "", 0)
		backendFormatter := logging.NewBackendFormatter(backend, format)
		backendLeveled := logging.AddModuleLevel(backendFormatter)

		name := strings.TrimSpace(l.Level)
		if name == "" {
			name = "info"
		}

		level, err := logging.LogLevel(name)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", l.Level)
		}

		backendLeveled.SetLevel(level, "")

		logBackends = append(logBackends, backendLeveled)
	}

	logging.SetBackend(logBackends...)
	return nil
}
