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
	"io"
	"regexp"

	"github.com/honeytrap/bannertrap/event"
)

// FilterFunc decides whether an event is delivered.
type FilterFunc func(event.Event) bool

type filterChannel struct {
	Channel

	FilterFn FilterFunc
}

// Send delivers e to the wrapped channel when the filter accepts it.
func (mc filterChannel) Send(e event.Event) {
	if !mc.FilterFn(e) {
		return
	}

	mc.Channel.Send(e)
}

func (mc filterChannel) Close() error {
	return closeChannel(mc.Channel)
}

// RegexFilterFunc accepts events whose field matches any of the expressions.
func RegexFilterFunc(field string, expressions []string) (FilterFunc, error) {
	matchers := make([]*regexp.Regexp, len(expressions))

	for i, match := range expressions {
		rx, err := regexp.Compile(match)
		if err != nil {
			return nil, err
		}

		matchers[i] = rx
	}

	return func(e event.Event) bool {
		val := e.Get(field)

		for _, rx := range matchers {
			if rx.MatchString(val) {
				return true
			}
		}

		return false
	}, nil
}

// FilterChannel wraps channel so only events accepted by fn reach it.
func FilterChannel(channel Channel, fn FilterFunc) Channel {
	return filterChannel{
		Channel:  channel,
		FilterFn: fn,
	}
}

type tokenChannel struct {
	Channel

	Token string
}

// Send delivers a copy of e carrying the sensor token.
func (mc tokenChannel) Send(e event.Event) {
	mc.Channel.Send(e.With(event.Token(mc.Token)))
}

func (mc tokenChannel) Close() error {
	return closeChannel(mc.Channel)
}

// TokenChannel wraps channel so every event carries token.
func TokenChannel(channel Channel, token string) Channel {
	return tokenChannel{
		Channel: channel,
		Token:   token,
	}
}

func closeChannel(c Channel) error {
	if cl, ok := c.(io.Closer); ok {
		return cl.Close()
	}

	return nil
}
