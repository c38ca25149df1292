// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"k8s.io/utils/clock"

	"github.com/NVIDIA/cns-init/pkg/defaults"
	cnserrors "github.com/NVIDIA/cns-init/pkg/errors"
)

// envelope is the on-disk form: the record bytes plus their checksum.
// A record whose checksum does not match is never trusted.
type envelope struct {
	Checksum string          `json:"checksum"`
	Record   json.RawMessage `json:"record"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithFileName overrides the record file name inside the state directory.
func WithFileName(name string) Option {
	return func(s *Store) {
		s.path = filepath.Join(s.dir, name)
	}
}

// Store persists the Record under a state directory. It assumes a single
// writer per boot event and relies on atomic file replacement only.
type Store struct {
	dir   string
	path  string
	clock clock.PassiveClock
}

// NewStore returns a Store rooted at dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:   dir,
		path:  filepath.Join(dir, defaults.CacheFileName),
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Clock returns the clock used for timestamps.
func (s *Store) Clock() clock.PassiveClock {
	return s.clock
}

// Load returns the persisted record, or an empty record when none exists.
// A record that cannot be trusted is moved aside and an empty record is
// returned together with a CACHE_CORRUPTION error; callers treat it as no
// prior state.
func (s *Store) Load() (*Record, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewRecord(), nil
	}
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInternal, "failed to read cache", err)
	}

	rec, err := decode(b)
	if err != nil {
		s.quarantine()
		return NewRecord(), cnserrors.WrapWithContext(cnserrors.ErrCodeCacheCorruption,
			"cache record cannot be trusted", err, map[string]any{"path": s.path})
	}
	return rec, nil
}

// Commit applies update to the current record and atomically replaces the
// file. The update sees either the complete previous record or an empty one;
// if update returns an error nothing is written.
func (s *Store) Commit(update func(*Record) error) (*Record, error) {
	rec, err := s.Load()
	if err != nil {
		if !cnserrors.IsCode(err, cnserrors.ErrCodeCacheCorruption) {
			return nil, err
		}
		slog.Warn("discarding corrupt cache record", "path", s.path, "error", err)
	}

	if err := update(rec); err != nil {
		return nil, err
	}
	rec.ensureMaps()
	rec.Schema = Schema.String()
	rec.UpdatedAt = s.clock.Now().UTC()

	b, err := encode(rec)
	if err != nil {
		return nil, cnserrors.Wrap(cnserrors.ErrCodeInternal, "failed to encode cache record", err)
	}
	if err := writeAtomic(s.path, b); err != nil {
		return nil, cnserrors.WrapWithContext(cnserrors.ErrCodeInternal, "failed to write cache record", err,
			map[string]any{"path": s.path})
	}
	commitsTotal.Inc()
	return rec, nil
}

// InstanceChanged loads the record and reports whether id differs from the
// persisted instance.
func (s *Store) InstanceChanged(id string) (bool, error) {
	rec, err := s.Load()
	if err != nil && !cnserrors.IsCode(err, cnserrors.ErrCodeCacheCorruption) {
		return false, err
	}
	return rec.InstanceChanged(id), nil
}

// Clean removes the record and any quarantined copy.
func (s *Store) Clean() error {
	for _, p := range []string{s.path, s.path + ".corrupt"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) quarantine() {
	dst := s.path + ".corrupt"
	if err := os.Rename(s.path, dst); err != nil {
		slog.Warn("failed to move corrupt cache aside", "path", s.path, "error", err)
		return
	}
	corruptTotal.Inc()
	slog.Warn("moved corrupt cache aside", "path", dst)
}

func checksum(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func encode(rec *Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(envelope{Checksum: checksum(body), Record: body}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func decode(b []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if len(env.Record) == 0 {
		return nil, fmt.Errorf("missing record")
	}
	if env.Checksum != checksum(compact(env.Record)) {
		return nil, fmt.Errorf("checksum mismatch")
	}

	rec := NewRecord()
	if err := json.Unmarshal(env.Record, rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if err := Schema.Check(rec.Schema); err != nil {
		return nil, err
	}
	rec.ensureMaps()
	return rec, nil
}
