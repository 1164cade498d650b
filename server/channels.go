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
	"path/filepath"
	"sort"

	"github.com/honeytrap/bannertrap/pushers"
	"github.com/honeytrap/bannertrap/pushers/console"
	fschannel "github.com/honeytrap/bannertrap/pushers/file"
	"github.com/pkg/errors"

	_ "github.com/honeytrap/bannertrap/pushers/elasticsearch"
	_ "github.com/honeytrap/bannertrap/pushers/kafka"
	_ "github.com/honeytrap/bannertrap/pushers/rabbitmq"
	_ "github.com/honeytrap/bannertrap/pushers/slack"
	_ "github.com/honeytrap/bannertrap/pushers/splunk"
	_ "github.com/honeytrap/bannertrap/pushers/sqlite"
)

type filterConfig struct {
	Channels []string `toml:"channel"`
	Kinds    []string `toml:"kinds"`
	Services []string `toml:"services"`
}

// setupChannels subscribes the configured channels to the bus. Without any
// channel section the file and console channels are used.
func (s *Server) setupChannels() (err error) {
	channels, err := s.configuredChannels()
	if err != nil {
		return err
	}

	if len(channels) == 0 {
		if channels, err = s.defaultChannels(); err != nil {
			return err
		}
	}

	defer func() {
		if err != nil {
			closeAll(channels)
		}
	}()

	isChannelUsed := map[string]bool{}

	for _, f := range s.config.Filters {
		x := filterConfig{}

		if err := s.config.PrimitiveDecode(f, &x); err != nil {
			return errors.Wrap(err, "error parsing configuration of filter")
		}

		for _, name := range x.Channels {
			channel, ok := channels[name]
			if !ok {
				log.Errorf("Could not find channel %s for filter", name)
				continue
			}

			isChannelUsed[name] = true

			channel = s.tokenize(channel)

			if len(x.Kinds) != 0 {
				fn, err := pushers.RegexFilterFunc("event", x.Kinds)
				if err != nil {
					return err
				}

				channel = pushers.FilterChannel(channel, fn)
			}

			if len(x.Services) != 0 {
				fn, err := pushers.RegexFilterFunc("service", x.Services)
				if err != nil {
					return err
				}

				channel = pushers.FilterChannel(channel, fn)
			}

			if err := s.bus.Subscribe(channel); err != nil {
				log.Errorf("Could not add channel %s to bus: %s", name, err.Error())
			}
		}
	}

	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		if isChannelUsed[name] {
			continue
		}

		log.Debugf("Channel %s has no filter, subscribing to all events", name)

		if err := s.bus.Subscribe(s.tokenize(channels[name])); err != nil {
			log.Errorf("Could not add channel %s to bus: %s", name, err.Error())
		}
	}

	for _, c := range s.channels {
		if err := s.bus.Subscribe(s.tokenize(c)); err != nil {
			return err
		}
	}

	if len(s.config.Undecoded()) != 0 {
		log.Warningf("Unrecognized keys in configuration: %v", s.config.Undecoded())
	}

	return nil
}

func (s *Server) configuredChannels() (map[string]pushers.Channel, error) {
	channels := map[string]pushers.Channel{}

	for key, c := range s.config.Channels {
		x := struct {
			Type string `toml:"type"`
		}{}

		if err := s.config.PrimitiveDecode(c, &x); err != nil {
			return nil, errors.Wrapf(err, "error parsing configuration of channel %s", key)
		}

		if x.Type == "" {
			return nil, errors.Errorf("error parsing configuration of channel %s: type not set", key)
		}

		channelFunc, ok := pushers.Get(x.Type)
		if !ok {
			closeAll(channels)
			return nil, errors.Errorf("channel %s has unknown type %s, available: %v", key, x.Type, pushers.Names())
		}

		d, err := channelFunc(pushers.WithConfig(c, s.config))
		if err != nil {
			closeAll(channels)
			return nil, errors.Wrapf(err, "error initializing channel %s(%s)", key, x.Type)
		}

		log.Infof("Configured channel %s (%s)", key, x.Type)
		channels[key] = d
	}

	return channels, nil
}

func (s *Server) defaultChannels() (map[string]pushers.Channel, error) {
	filename := fschannel.DefaultFilename
	if s.dataDir != "" {
		filename = filepath.Join(s.dataDir, filename)
	}

	f, err := fschannel.New(fschannel.WithFilename(filename))
	if err != nil {
		return nil, err
	}

	c, err := console.New()
	if err != nil {
		closeAll(map[string]pushers.Channel{"file": f})
		return nil, err
	}

	return map[string]pushers.Channel{
		"file":    f,
		"console": c,
	}, nil
}

func (s *Server) tokenize(c pushers.Channel) pushers.Channel {
	if s.token == "" {
		return c
	}

	return pushers.TokenChannel(c, s.token)
}

func closeAll(channels map[string]pushers.Channel) {
	for name, c := range channels {
		closer, ok := c.(interface{ Close() error })
		if !ok {
			continue
		}

		if err := closer.Close(); err != nil {
			log.Errorf("Error closing channel %s: %s", name, err.Error())
		}
	}
}
