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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/honeytrap/bannertrap/event"
	"github.com/honeytrap/bannertrap/pushers"
	logging "github.com/op/go-logging"

	_ "modernc.org/sqlite"
)

var (
	_ = pushers.Register("sqlite", New)
)

var log = logging.MustGetLogger("bannertrap/channels/sqlite")

// Config holds the sqlite channel settings.
type Config struct {
	File string `toml:"filename"`
}

// Backend stores every event as a row of the events table.
type Backend struct {
	Config

	db *sql.DB

	q    *pushers.Queue
	once sync.Once
	err  error
}

// New opens (or creates) the database and ensures the schema exists.
func New(options ...func(pushers.Channel) error) (pushers.Channel, error) {
	b := Backend{}

	for _, optionFn := range options {
		if err := optionFn(&b); err != nil {
			return nil, err
		}
	}

	if b.File == "" {
		return nil, errors.New("Sqlite channel: filename not set")
	}

	if err := ensureDir(b.File); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", b.File))
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting journal mode: %w", err)
	}

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("error setting busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	b.db = db
	b.q = pushers.NewQueue("sqlite", 1024, pushers.DefaultSendTimeout, b.insert)

	return &b, nil
}

// WithFilename sets the database file.
func WithFilename(name string) func(pushers.Channel) error {
	return func(c pushers.Channel) error {
		c.(*Backend).File = name
		return nil
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	service TEXT,
	dst_port INTEGER,
	src_ip TEXT,
	src_port INTEGER,
	bytes_rx INTEGER,
	preview TEXT,
	err TEXT,
	body TEXT NOT NULL
);
`
	_, err := db.Exec(ddl)
	return err
}

func nullString(e event.Event, key string) sql.NullString {
	if !e.Has(key) {
		return sql.NullString{}
	}

	return sql.NullString{String: e.Get(key), Valid: true}
}

func nullInt(e event.Event, key string) sql.NullInt64 {
	v, ok := e.Int(key)
	if !ok {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func (b *Backend) insert(e event.Event) {
	body, err := e.MarshalJSON()
	if err != nil {
		log.Errorf("Error marshaling event: %s", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = b.db.ExecContext(ctx, `
INSERT INTO events (ts, kind, service, dst_port, src_ip, src_port, bytes_rx, preview, err, body)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.Get("ts"),
		e.Kind(),
		nullString(e, "service"),
		nullInt(e, "dst_port"),
		nullString(e, "src_ip"),
		nullInt(e, "src_port"),
		nullInt(e, "bytes_rx"),
		nullString(e, "preview"),
		nullString(e, "err"),
		string(body),
	)
	if err != nil {
		log.Errorf("Error storing event: %s", err.Error())
	}
}

// Send queues the event for storage.
func (b *Backend) Send(e event.Event) {
	b.q.Send(e)
}

// Close stores the queued events and releases the database.
func (b *Backend) Close() error {
	b.once.Do(func() {
		b.q.Close()
		b.err = b.db.Close()
	})

	return b.err
}
