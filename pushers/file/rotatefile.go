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
	"fmt"
	"io"
	"os"
	"time"
)

// OpenRotateFile opens name for appending, rotating it first when it has
// already reached maxSize.
func OpenRotateFile(name string, mode os.FileMode, maxSize int64, backups int) (*rotateFile, error) {
	rf := &rotateFile{
		path:    name,
		mode:    mode,
		maxSize: maxSize,
		backups: backups,
	}

	if err := rf.reopen(); err != nil {
		return nil, err
	}

	if rf.pos < maxSize {
		return rf, nil
	} else if err := rf.rotate(); err != nil {
		return rf, err
	}

	return rf, nil
}

type rotateFile struct {
	f *os.File

	mode    os.FileMode
	path    string
	pos     int64
	maxSize int64
	backups int
}

func (f *rotateFile) backupName(i int) string {
	return fmt.Sprintf("%s.%d", f.path, i)
}

func (f *rotateFile) rotate() error {
	f.f.Sync()
	f.f.Close()

	if f.backups == 0 {
		now := time.Now()

		if err := os.Rename(f.path, fmt.Sprintf("%s.%s", f.path, now.Format("20060102150405"))); err != nil {
			return err
		}

		return f.reopen()
	}

	// name.N-1 -> name.N, ..., name -> name.1; the oldest falls off.
	if err := os.Remove(f.backupName(f.backups)); err != nil && !os.IsNotExist(err) {
		return err
	}

	for i := f.backups - 1; i >= 1; i-- {
		if err := os.Rename(f.backupName(i), f.backupName(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if err := os.Rename(f.path, f.backupName(1)); err != nil {
		return err
	}

	return f.reopen()
}

func (f *rotateFile) reopen() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, f.mode)
	if err != nil {
		return err
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return err
	}

	f.f = file
	f.pos = offset
	return nil
}

// Write writes one complete record. The file is rotated before the record
// when it would not fit, so records never span two files.
func (f *rotateFile) Write(p []byte) (int, error) {
	if _, err := os.Stat(f.path); err != nil {
		f.f.Close()

		if err := f.reopen(); err != nil {
			return 0, err
		}
	}

	if f.pos > 0 && f.pos+int64(len(p)) > f.maxSize {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := f.f.Write(p)

	f.pos += int64(n)
	return n, err
}

func (f *rotateFile) Close() error {
	return f.f.Close()
}

func (f *rotateFile) Sync() error {
	return f.f.Sync()
}
