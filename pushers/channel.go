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
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/honeytrap/bannertrap/event"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("bannertrap/channels")

// Channel is the event sink consumed by listeners and connection handlers.
// Send takes ownership of the event. Implementations must not block for
// longer than a short, bounded time and must not panic into the caller.
type Channel interface {
	Send(event.Event)
}

// ChannelFunc creates a configured Channel.
type ChannelFunc func(...func(Channel) error) (Channel, error)

var (
	channels = map[string]ChannelFunc{}
)

// Register makes a channel type available by name.
func Register(key string, fn ChannelFunc) ChannelFunc {
	channels[key] = fn
	return fn
}

// Get returns the channel constructor registered as key. When no such type
// exists the Dummy constructor is returned together with false.
func Get(key string) (ChannelFunc, bool) {
	if fn, ok := channels[key]; ok {
		return fn, true
	}

	return Dummy, false
}

// Names returns the registered channel types in sorted order.
func Names() []string {
	names := make([]string, 0, len(channels))
	for k := range channels {
		names = append(names, k)
	}

	sort.Strings(names)
	return names
}

type TomlDecoder interface {
	PrimitiveDecode(primValue toml.Primitive, v interface{}) error
}

// WithConfig decodes the channel section c into the channel.
func WithConfig(c toml.Primitive, decoder TomlDecoder) func(Channel) error {
	return func(ch Channel) error {
		if err := decoder.PrimitiveDecode(c, ch); err != nil {
			return fmt.Errorf("error decoding channel config: %s", err.Error())
		}

		return nil
	}
}

// Dummy returns a channel that discards everything.
func Dummy(options ...func(Channel) error) (Channel, error) {
	return &dummyChannel{}, nil
}

// MustDummy is like Dummy without the error.
func MustDummy() Channel {
	c, _ := Dummy()
	return c
}

type dummyChannel struct{}

func (dummyChannel) Send(event.Event) {}
