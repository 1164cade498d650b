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

package splunk

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	hec "github.com/fuyufjh/splunk-hec-go"
	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	logging "github.com/op/go-logging"
)

var (
	_ = pushers.Register("splunk", New)
)

var log = logging.MustGetLogger("bannertrap/channels/splunk")

var (
	ErrEndpointsNotSet = errors.New("Endpoints has not been set")
	ErrTokenNotSet     = errors.New("Token has not been set")
)

const defaultSourceType = "bannertrap"

// Config holds the HTTP Event Collector settings.
type Config struct {
	Endpoints  []string `toml:"endpoints"`
	Token      string   `toml:"token"`
	Verify     bool     `toml:"verify"`
	SourceType string   `toml:"sourcetype"`
	QueueSize  int      `toml:"queue-size"`
}

func (c Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrEndpointsNotSet
	}

	for _, e := range c.Endpoints {
		if _, err := url.Parse(e); err != nil {
			return err
		}
	}

	if c.Token == "" {
		return ErrTokenNotSet
	}

	return nil
}

// Backend forwards events to a Splunk HTTP Event Collector cluster.
type Backend struct {
	Config

	client hec.HEC

	q    *pushers.Queue
	sent uint64
	once sync.Once
}

func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	c := Backend{
		Config: Config{
			Verify:     true,
			SourceType: defaultSourceType,
			QueueSize:  100,
		},
	}

	for _, optionFn := range options {
		if err := optionFn(&c); err != nil {
			return nil, err
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	c.client = hec.NewCluster(c.Endpoints, c.Token)
	c.client.SetHTTPClient(&http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 5,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !c.Verify,
			},
		},
		Timeout: 20 * time.Second,
	})

	c.q = pushers.NewQueue("splunk", c.QueueSize, pushers.DefaultSendTimeout, c.write)

	return &c, nil
}

// WithEndpoints sets the collector endpoints and token.
func WithEndpoints(token string, endpoints ...string) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		b := c.(*Backend)
		b.Token = token
		b.Endpoints = endpoints
		return nil
	}
}

func (b *Backend) write(e event.Event) {
	ev := hec.NewEvent(event.ToMap(e))
	ev.SetSourceType(b.SourceType)

	if t, err := time.Parse(event.TimeFormat, e.Get("ts")); err == nil {
		ev.SetTime(t)
	}

	if err := b.client.WriteEvent(ev); err != nil {
		log.Errorf("Error writing event to splunk: %s", err.Error())
		return
	}

	atomic.AddUint64(&b.sent, 1)
}

// Send queues the event for the collector.
func (b *Backend) Send(e event.Event) {
	b.q.Send(e)
}

// Sent returns the number of events accepted by the collector.
func (b *Backend) Sent() uint64 {
	return atomic.LoadUint64(&b.sent)
}

// Close delivers the queued events.
func (b *Backend) Close() error {
	b.once.Do(func() {
		b.q.Close()
	})

	return nil
}
