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

package fschannel

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/honeytrap/bannertrap/config"
	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	"github.com/op/go-logging"
)

var (
	_ = pushers.Register("file", New)
)

var (
	defaultMaxSize   = int64(5000000)
	defaultBackups   = 5
	defaultQueueSize = 1024

	log = logging.MustGetLogger("bannertrap/channels/file")
)

// DefaultFilename is where events go when no channel is configured.
const DefaultFilename = "logs/honeypot.jsonl"

// New returns a new instance of a FileBackend. The file is created right
// away so a misconfigured path fails at startup.
func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	fc := FileBackend{
		FileConfig: FileConfig{
			MaxSize:     defaultMaxSize,
			Backups:     defaultBackups,
			Mode:        0600,
			QueueSize:   defaultQueueSize,
			SendTimeout: config.Delay(pushers.DefaultSendTimeout),
		},
	}

	for _, optionFn := range options {
		if err := optionFn(&fc); err != nil {
			return nil, err
		}
	}

	if fc.File == "" {
		return nil, errors.New("File channel: filename not set")
	}

	if fc.MaxSize < 1024 {
		return nil, errors.New("File channel: minimal max size is 1024")
	}

	if fc.Backups < 0 {
		return nil, errors.New("File channel: backups must not be negative")
	}

	if filepath.IsAbs(fc.File) {
	} else if pwd, err := os.Getwd(); err == nil {
		fc.File = filepath.Join(pwd, fc.File)
	}

	if err := os.MkdirAll(filepath.Dir(fc.File), 0755); err != nil {
		return nil, err
	}

	dest, err := OpenRotateFile(fc.File, os.FileMode(fc.Mode), fc.MaxSize, fc.Backups)
	if err != nil {
		return nil, err
	}

	fc.dest = dest
	fc.q = pushers.NewQueue("file", fc.QueueSize, fc.SendTimeout.Duration(), fc.write)

	return &fc, nil
}

// WithFilename sets the destination file.
func WithFilename(name string) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*FileBackend).File = name
		return nil
	}
}

// WithMaxSize sets the size at which the file is rotated.
func WithMaxSize(maxSize int64) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*FileBackend).MaxSize = maxSize
		return nil
	}
}

// WithBackups sets the number of rotated files to keep.
func WithBackups(n int) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*FileBackend).Backups = n
		return nil
	}
}

// FileConfig defines the config used to setup the FileBackend.
type FileConfig struct {
	File        string       `toml:"filename"`
	MaxSize     int64        `toml:"maxsize"`
	Backups     int          `toml:"backups"`
	Mode        uint32       `toml:"mode"`
	QueueSize   int          `toml:"queue-size"`
	SendTimeout config.Delay `toml:"send-timeout"`
}

// FileBackend appends every event as one JSON object per line. A single
// goroutine owns the file, so concurrent senders never interleave records.
// When the file would grow past MaxSize it is rotated: with Backups > 0 the
// old files are kept as name.1 ... name.N, with Backups == 0 the old file is
// renamed with a timestamp suffix and kept forever.
type FileBackend struct {
	FileConfig

	q    *pushers.Queue
	dest *rotateFile

	once sync.Once
	err  error
}

// Send queues the event for writing.
func (f *FileBackend) Send(e event.Event) {
	f.q.Send(e)
}

func (f *FileBackend) write(e event.Event) {
	data, err := e.MarshalJSON()
	if err != nil {
		log.Errorf("Failed to marshal event to JSON: %s", err)
		return
	}

	data = append(data, '\n')

	if _, err := f.dest.Write(data); err != nil {
		log.Errorf("Failed to write event to %s: %s", f.File, err)
	}
}

// Close writes all queued events, syncs and closes the file.
func (f *FileBackend) Close() error {
	f.once.Do(func() {
		f.q.Close()

		if err := f.dest.Sync(); err != nil {
			log.Errorf("Failed to sync %s: %s", f.File, err)
		}

		f.err = f.dest.Close()
	})

	return f.err
}
