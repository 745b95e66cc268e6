// Copyright (C) 2026 the QueryForge authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrJournalClosed indicates an operation against a closed journal.
var ErrJournalClosed = errors.New("events: journal is closed")

// Journal persists run event streams in BadgerDB. Keys are laid out as
// run/<runID>/<seq> with a zero-padded sequence, so a prefix scan
// replays one run's events in emission order.
//
// Thread Safety: Journal is safe for concurrent use.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLogger routes BadgerDB's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenJournal opens (creating if needed) a journal at path. An empty
// path opens an in-memory journal, which is what tests use.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("events: create journal directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("events: open journal: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Handler returns a Handler that appends each event to the journal.
// Write failures are logged, never propagated: journaling must not
// break a run.
func (j *Journal) Handler() Handler {
	return func(event *Event) {
		if err := j.Append(event); err != nil {
			j.logger.Error("journal append failed",
				"run_id", event.RunID,
				"seq", event.Seq,
				"error", err,
			)
		}
	}
}

// Append persists one event.
func (j *Journal) Append(event *Event) error {
	if j.db.IsClosed() {
		return ErrJournalClosed
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	key := journalKey(event.RunID, event.Seq)

	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// ReadRun replays one run's events in sequence order.
func (j *Journal) ReadRun(runID string) ([]*Event, error) {
	if j.db.IsClosed() {
		return nil, ErrJournalClosed
	}

	prefix := []byte("run/" + runID + "/")
	var out []*Event

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event Event
				if err := json.Unmarshal(val, &event); err != nil {
					return fmt.Errorf("events: unmarshal event: %w", err)
				}
				out = append(out, &event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// journalKey builds the run/<runID>/<seq> key. The sequence is
// zero-padded so lexicographic key order matches numeric order.
func journalKey(runID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("run/%s/%010d", runID, seq))
}
