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

package console

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
)

var (
	_ = pushers.Register("console", New)
)

// Prefix starts every line written to the console.
const Prefix = "LOG EVENT:"

// New returns a console channel writing to stdout.
func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	c := Console{
		Writer:    os.Stdout,
		QueueSize: 100,
	}

	for _, optionFn := range options {
		if err := optionFn(&c); err != nil {
			return nil, err
		}
	}

	c.q = pushers.NewQueue("console", c.QueueSize, pushers.DefaultSendTimeout, c.print)

	return &c, nil
}

// WithWriter replaces stdout.
func WithWriter(w io.Writer) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*Console).Writer = w
		return nil
	}
}

// Console echoes every event on one line, coloured by kind when the
// output is a terminal.
type Console struct {
	io.Writer `toml:"-"`

	QueueSize int `toml:"queue-size"`

	q    *pushers.Queue
	once sync.Once
}

var colors = map[string]*color.Color{
	event.KindInit:       color.New(color.FgYellow),
	event.KindStart:      color.New(color.FgYellow),
	event.KindStop:       color.New(color.FgYellow),
	event.KindConnection: color.New(color.FgGreen),
	event.KindError:      color.New(color.FgRed),
}

func printify(s string) string {
	var sb strings.Builder

	for _, r := range s {
		if r == utf8.RuneError || !unicode.IsPrint(r) {
			buf := make([]byte, 4)

			n := utf8.EncodeRune(buf, r)
			fmt.Fprintf(&sb, "\\x%s", hex.EncodeToString(buf[:n]))
			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

// Format renders e as a single console line without a trailing newline.
func Format(e event.Event) string {
	var params []string

	e.Range(func(k string, v interface{}) bool {
		switch k {
		case "event", "stacktrace":
			return true
		}

		switch x := v.(type) {
		case string:
			params = append(params, fmt.Sprintf("%s=%s", k, printify(x)))
		case int, uint16:
			params = append(params, fmt.Sprintf("%s=%d", k, x))
		default:
			params = append(params, fmt.Sprintf("%s=%v", k, x))
		}

		return true
	})

	kind := e.Kind()
	if c, ok := colors[kind]; ok {
		kind = c.Sprint(kind)
	}

	return fmt.Sprintf("%s %s > %s", Prefix, kind, strings.Join(params, ", "))
}

func (b *Console) print(e event.Event) {
	fmt.Fprintln(b.Writer, Format(e))
}

// Send queues the event for printing; events are dropped when the console
// stays full for longer than the send timeout.
func (b *Console) Send(e event.Event) {
	b.q.Send(e)
}

// Close prints the remaining events.
func (b *Console) Close() error {
	b.once.Do(func() {
		b.q.Close()
	})

	return nil
}
