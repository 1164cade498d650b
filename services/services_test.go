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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	vals := []struct {
		name   string
		port   uint16
		banner string
	}{
		{"ssh", 2222, "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.7\r\n"},
		{"telnet", 2323, "login: "},
		{"http", 8081, "HTTP/1.1 400 Bad Request\r\nServer: nginx\r\nContent-Length: 0\r\n\r\n"},
	}

	assert.Equal(t, 3, r.Len())

	for _, v := range vals {
		d, ok := r.Get(v.name)
		require.True(t, ok, v.name)

		assert.Equal(t, v.port, d.Port)
		assert.Equal(t, v.banner, string(d.Banner))
	}
}

func TestRegistryIsImmutable(t *testing.T) {
	r := Default()

	d, _ := r.Get("telnet")
	d.Banner[0] = 'X'
	d.Port = 1

	defs := r.Definitions()
	defs[0].Banner[0] = 'Y'

	again, _ := r.Get("telnet")
	assert.Equal(t, "login: ", string(again.Banner))
	assert.Equal(t, uint16(2323), again.Port)

	first := r.Definitions()[0]
	assert.NotEqual(t, byte('Y'), first.Banner[0])
}

func TestRegistryOrder(t *testing.T) {
	var names []string
	for _, d := range Default().Definitions() {
		names = append(names, d.Name)
	}

	assert.Equal(t, []string{"http", "ssh", "telnet"}, names)
}

func TestRegistryValidation(t *testing.T) {
	vals := []struct {
		name string
		defs []Definition
	}{
		{"no name", []Definition{{Port: 1}}},
		{"no port", []Definition{{Name: "a"}}},
		{"duplicate name", []Definition{{Name: "a", Port: 1}, {Name: "a", Port: 2}}},
		{"duplicate port", []Definition{{Name: "a", Port: 1}, {Name: "b", Port: 1}}},
	}

	for _, v := range vals {
		_, err := NewRegistry(v.defs...)
		assert.Error(t, err, v.name)
	}

	_, ok := Default().Get("ftp")
	assert.False(t, ok)
}
