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

package slack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("bannertrap/channels/slack")

var (
	_ = pushers.Register("slack", New)
)

// Config defines a struct which holds configuration field values used by the
// Backend for its message delivery to the slack channel API.
type Config struct {
	WebhookURL string `toml:"webhook_url"`
	Username   string `toml:"username"`
	IconURL    string `toml:"icon_url"`
	IconEmoji  string `toml:"icon_emoji"`
}

// Backend posts every event to a slack incoming webhook.
type Backend struct {
	Config

	client *http.Client

	q    *pushers.Queue
	once sync.Once
}

// New returns a new instance of a Backend.
func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	c := Backend{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
			},
			Timeout: 20 * time.Second,
		},
	}

	for _, optionFn := range options {
		if err := optionFn(&c); err != nil {
			return nil, err
		}
	}

	if c.WebhookURL == "" {
		return nil, errors.New("Invalid Config: WebhookURL can not be empty")
	}

	c.q = pushers.NewQueue("slack", 100, pushers.DefaultSendTimeout, c.post)

	return &c, nil
}

// WithWebhookURL sets the webhook messages are posted to.
func WithWebhookURL(u string) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*Backend).WebhookURL = u
		return nil
	}
}

// Text summarizes the event in one line.
func Text(e event.Event) string {
	m := event.ToMap(e)

	switch e.Kind() {
	case event.KindConnection:
		return fmt.Sprintf("Connection to %s:%v from %s:%v (%v bytes)", e.Get("service"), m["dst_port"], e.Get("src_ip"), m["src_port"], m["bytes_rx"])
	case event.KindError:
		return fmt.Sprintf("Error on %s: %s", e.Get("service"), e.Get("err")+e.Get("msg"))
	case event.KindStart:
		return fmt.Sprintf("Listening for %s on port %v", e.Get("service"), m["port"])
	default:
		return fmt.Sprintf("Honeypot %s", e.Kind())
	}
}

func (b *Backend) message(e event.Event) Message {
	fields := Attachment{
		Title:    "Event Fields",
		Author:   "Bannertrap",
		Fallback: e.String(),
	}

	e.Range(func(key string, value interface{}) bool {
		if key == "stacktrace" {
			return true
		}

		fields.AddField(key, fmt.Sprintf("%v", value))
		return true
	})

	msg := Message{
		Text:      Text(e),
		IconURL:   b.IconURL,
		IconEmoji: b.IconEmoji,
		Username:  b.Username,
	}

	msg.AddAttachment(fields)
	return msg
}

func (b *Backend) post(e event.Event) {
	data := new(bytes.Buffer)
	if err := json.NewEncoder(data).Encode(b.message(e)); err != nil {
		log.Errorf("Error encoding slack message: %s", err.Error())
		return
	}

	req, err := http.NewRequest("POST", b.WebhookURL, data)
	if err != nil {
		log.Errorf("Error while creating new request object: %s", err.Error())
		return
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		log.Errorf("Error while making request to endpoint(%q): %s", b.WebhookURL, err.Error())
		return
	}

	defer res.Body.Close()

	io.Copy(ioutil.Discard, res.Body)

	if res.StatusCode == http.StatusOK {
	} else if res.StatusCode == http.StatusCreated {
	} else {
		log.Errorf("API Response with unexpected Status Code[%d] to endpoint: %q", res.StatusCode, b.WebhookURL)
	}
}

// Send queues the event for posting.
func (b *Backend) Send(e event.Event) {
	b.q.Send(e)
}

// Close posts the queued events.
func (b *Backend) Close() error {
	b.once.Do(func() {
		b.q.Close()
	})

	return nil
}

// Message defines the base message to be included sent to a slack endpoint.
type Message struct {
	Text        string       `json:"text"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Username    string       `json:"username,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

// AddAttachment adds a field into the slice for the given attachment.
func (a *Message) AddAttachment(attachment Attachment) {
	a.Attachments = append(a.Attachments, attachment)
}

// Attachment defines a struct to define an attachment to be included with a event.
type Attachment struct {
	Title    string  `json:"title"`
	Author   string  `json:"author_name,omitempty"`
	Fallback string  `json:"fallback,omitempty"`
	Fields   []Field `json:"fields"`
	Text     string  `json:"text,omitempty"`
}

// AddField adds a field into the slice for the given attachment.
func (a *Attachment) AddField(title string, value string) *Attachment {
	a.Fields = append(a.Fields, Field{Title: title, Value: value, Short: true})
	return a
}

// Field defines a field item to be shown on a event.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
