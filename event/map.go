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

package event

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// TimeFormat is the layout of the ts field, always in UTC.
const TimeFormat = "2006-01-02T15:04:05Z"

// Event is an immutable structured record describing one notable moment of
// the honeypot: startup, a listener coming up, a connection, a failure or
// shutdown. Options are only applied while an Event is being built; use
// With to derive a modified copy.
type Event struct {
	fields map[string]interface{}
}

// New builds an Event from the given options. The ts field is set to the
// current time unless an option supplied one.
func New(opts ...Option) Event {
	e := Event{
		fields: map[string]interface{}{},
	}

	e.apply(opts...)

	if _, ok := e.fields["ts"]; !ok {
		e.fields["ts"] = FormatTime(time.Now())
	}

	return e
}

// With returns a copy of e with the options applied. The receiver is left
// untouched.
func (e Event) With(opts ...Option) Event {
	c := Event{
		fields: make(map[string]interface{}, len(e.fields)+len(opts)),
	}

	for k, v := range e.fields {
		c.fields[k] = v
	}

	c.apply(opts...)
	return c
}

func (e Event) apply(opts ...Option) {
	for _, opt := range opts {
		if opt == nil {
			continue
		}

		opt(e)
	}
}

func (e Event) store(key string, v interface{}) {
	e.fields[key] = v
}

// Kind returns the event kind (init, start, connection, error or stop).
func (e Event) Kind() string {
	return e.Get("event")
}

// Has reports whether key is set.
func (e Event) Has(key string) bool {
	_, ok := e.fields[key]
	return ok
}

// Get returns the string value of key, or an empty string when the key is
// absent or not a string.
func (e Event) Get(key string) string {
	if v, ok := e.fields[key]; !ok {
		return ""
	} else if v, ok := v.(string); !ok {
		return ""
	} else {
		return v
	}
}

// Int returns the integer value of key.
func (e Event) Int(key string) (int, bool) {
	switch v := e.fields[key].(type) {
	case int:
		return v, true
	case uint16:
		return int(v), true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	default:
		return 0, false
	}
}

// Range calls fn for every field in key order until fn returns false.
func (e Event) Range(fn func(key string, value interface{}) bool) {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if !fn(k, e.fields[k]) {
			return
		}
	}
}

// MarshalJSON encodes the event as a single JSON object without HTML
// escaping, so previews keep their characters.
func (e Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(ToMap(e)); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, err := e.MarshalJSON()
	if err != nil {
		return strconv.Quote(err.Error())
	}

	return string(data)
}

// ToMap returns a copy of the event fields.
func ToMap(e Event) map[string]interface{} {
	mp := make(map[string]interface{}, len(e.fields))

	for k, v := range e.fields {
		mp[k] = v
	}

	return mp
}

// FormatTime formats t as a UTC timestamp in TimeFormat.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
