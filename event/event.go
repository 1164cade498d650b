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
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Event kinds.
const (
	KindInit       = "init"
	KindStart      = "start"
	KindConnection = "connection"
	KindError      = "error"
	KindStop       = "stop"
)

var (
	InitEvent       = Kind(KindInit)
	StartEvent      = Kind(KindStart)
	ConnectionEvent = Kind(KindConnection)
	ErrorEvent      = Kind(KindError)
	StopEvent       = Kind(KindStop)
)

// UnknownHost is recorded as src_ip when the peer address cannot be resolved.
const UnknownHost = "?"

// Option sets one or more fields while an Event is built.
type Option func(Event)

// NewWith groups several options into one.
func NewWith(opts ...Option) Option {
	return func(e Event) {
		e.apply(opts...)
	}
}

func Kind(s string) Option {
	return func(e Event) {
		e.store("event", s)
	}
}

// Timestamp overrides the ts field.
func Timestamp(t time.Time) Option {
	return func(e Event) {
		e.store("ts", FormatTime(t))
	}
}

func Token(token string) Option {
	return func(e Event) {
		e.store("token", token)
	}
}

func Service(v string) Option {
	return func(e Event) {
		e.store("service", v)
	}
}

func DestinationPort(port uint16) Option {
	return func(e Event) {
		e.store("dst_port", int(port))
	}
}

// Port records the configured port of a listener.
func Port(port uint16) Option {
	return func(e Event) {
		e.store("port", int(port))
	}
}

func SourceIP(ip string) Option {
	return func(e Event) {
		e.store("src_ip", ip)
	}
}

func SourcePort(port int) Option {
	return func(e Event) {
		e.store("src_port", port)
	}
}

// SourceAddr records the peer ip and port. Addresses that cannot be
// resolved are recorded as ("?", 0).
func SourceAddr(addr net.Addr) Option {
	return func(e Event) {
		ip, port := SplitAddr(addr)
		e.store("src_ip", ip)
		e.store("src_port", port)
	}
}

// SplitAddr returns the ip and port of addr, or ("?", 0).
func SplitAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case nil:
		return UnknownHost, 0
	case *net.TCPAddr:
		if a == nil || a.IP == nil {
			return UnknownHost, 0
		}
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		if a == nil || a.IP == nil {
			return UnknownHost, 0
		}
		return a.IP.String(), a.Port
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return UnknownHost, 0
	}

	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}

	return host, p
}

// Payload records the number of received bytes and a text preview of at most
// limit bytes.
func Payload(data []byte, limit int) Option {
	return func(e Event) {
		e.store("bytes_rx", len(data))
		e.store("preview", Preview(data, limit))
	}
}

// Preview decodes at most the first limit bytes of data as UTF-8. Each
// maximal invalid subsequence becomes one U+FFFD, so a multi-byte character
// cut off at the limit yields a single replacement character.
func Preview(data []byte, limit int) string {
	if limit >= 0 && len(data) > limit {
		data = data[:limit]
	}

	var sb strings.Builder
	sb.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			sb.WriteRune(utf8.RuneError)
			data = data[invalidPrefix(data):]
			continue
		}

		sb.Write(data[:size])
		data = data[size:]
	}

	return sb.String()
}

// invalidPrefix returns the length of the longest prefix of data that could
// start a well-formed sequence but does not complete one. It is at least 1.
func invalidPrefix(data []byte) int {
	var n int
	lo, hi := byte(0x80), byte(0xbf)

	switch b := data[0]; {
	case b >= 0xc2 && b <= 0xdf:
		n = 2
	case b == 0xe0:
		n, lo = 3, 0xa0
	case b == 0xed:
		n, hi = 3, 0x9f
	case b >= 0xe1 && b <= 0xef:
		n = 3
	case b == 0xf0:
		n, lo = 4, 0x90
	case b == 0xf4:
		n, hi = 4, 0x8f
	case b >= 0xf1 && b <= 0xf3:
		n = 4
	default:
		return 1
	}

	i := 1
	for ; i < n && i < len(data); i++ {
		if data[i] < lo || data[i] > hi {
			break
		}

		lo, hi = 0x80, 0xbf
	}

	return i
}

func Error(err error) Option {
	return func(e Event) {
		if err == nil {
			return
		}

		e.store("err", err.Error())
	}
}

func Message(format string, a ...interface{}) Option {
	return func(e Event) {
		e.store("msg", fmt.Sprintf(format, a...))
	}
}

func Stack() Option {
	return func(e Event) {
		e.store("stacktrace", string(debug.Stack()))
	}
}

func Custom(name string, value interface{}) Option {
	return func(e Event) {
		e.store(name, value)
	}
}

// MergeFrom copies the fields of data that are not set yet.
func MergeFrom(data map[string]interface{}) Option {
	return func(e Event) {
		for name, value := range data {
			if !e.Has(name) {
				e.store(name, value)
			}
		}
	}
}
