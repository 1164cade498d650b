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

package services

import (
	"fmt"
	"sort"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("bannertrap/services")

// Definition describes one emulated service: where it listens and the
// banner sent to every peer.
type Definition struct {
	Name   string
	Port   uint16
	Banner []byte
}

func (d Definition) String() string {
	return fmt.Sprintf("%s/%d", d.Name, d.Port)
}

func (d Definition) clone() Definition {
	d.Banner = append([]byte(nil), d.Banner...)
	return d
}

// Registry is the immutable set of services to listen on.
type Registry struct {
	defs []Definition
}

// NewRegistry validates defs: names must be set and unique, ports non-zero
// and unique.
func NewRegistry(defs ...Definition) (*Registry, error) {
	names := map[string]bool{}
	ports := map[uint16]string{}

	r := &Registry{}

	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("service without name")
		}

		if names[d.Name] {
			return nil, fmt.Errorf("service %s defined twice", d.Name)
		}

		if d.Port == 0 {
			return nil, fmt.Errorf("service %s: port not set", d.Name)
		}

		if other, ok := ports[d.Port]; ok {
			return nil, fmt.Errorf("service %s: port %d already used by %s", d.Name, d.Port, other)
		}

		names[d.Name] = true
		ports[d.Port] = d.Name

		r.defs = append(r.defs, d.clone())
	}

	sort.Slice(r.defs, func(i, j int) bool {
		return r.defs[i].Name < r.defs[j].Name
	})

	return r, nil
}

// MustRegistry is like NewRegistry but panics on invalid definitions.
func MustRegistry(defs ...Definition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}

	return r
}

// Definitions returns copies of all definitions in name order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, len(r.defs))

	for i, d := range r.defs {
		defs[i] = d.clone()
	}

	return defs
}

// Get returns the definition named name.
func (r *Registry) Get(name string) (Definition, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d.clone(), true
		}
	}

	return Definition{}, false
}

func (r *Registry) Len() int {
	return len(r.defs)
}

// Built-in banners.
var (
	SSHBanner    = []byte("SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.7\r\n")
	TelnetBanner = []byte("login: ")
	HTTPBanner   = []byte("HTTP/1.1 400 Bad Request\r\nServer: nginx\r\nContent-Length: 0\r\n\r\n")
)

// Default returns the built-in services: ssh on 2222, telnet on 2323 and
// http on 8081.
func Default() *Registry {
	return MustRegistry(
		Definition{Name: "ssh", Port: 2222, Banner: SSHBanner},
		Definition{Name: "telnet", Port: 2323, Banner: TelnetBanner},
		Definition{Name: "http", Port: 8081, Banner: HTTPBanner},
	)
}
