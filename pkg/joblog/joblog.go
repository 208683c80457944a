// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package joblog is a structured, pub/sub event log for consolidation
// jobs: every event sent through a Logger is both broadcast to live
// subscribers (the websocket progress stream) and durably recorded in a
// bolt-backed ring buffer for later inspection. pkg/job.Engine holds a
// Logger but sends no events to it; the executor's warnings and errors
// are recorded on its Progress only.
package joblog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "events"

const defaultMaxKeys = 100000

// Level defines an event's severity.
type Level uint8

// Event levels.
const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// Event is an in-flight log record being built. Call Msg/Msgf to send it.
type Event struct {
	level Level
	time  int64 // unix nanoseconds
	jobID string
	file  string

	hub *Logger
}

// Log is one finished, immutable event record.
type Log struct {
	Level Level
	Time  int64
	JobID string
	File  string
	Msg   string
}

// Job sets the event's owning job_id.
func (e *Event) Job(jobID string) *Event {
	e.jobID = jobID
	return e
}

// File sets the file path the event concerns, when applicable.
func (e *Event) File(path string) *Event {
	e.file = path
	return e
}

// Msg finalizes and dispatches the event onto the logger's feed.
func (e *Event) Msg(msg string) {
	e.hub.feed <- Log{
		Level: e.level,
		Time:  e.time,
		JobID: e.jobID,
		File:  e.file,
		Msg:   msg,
	}
}

// Msgf finalizes and dispatches the event with a formatted message.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

type logFeed chan Log

// Logger is the pub/sub hub every job's events flow through.
type Logger struct {
	feed  logFeed
	sub   chan logFeed
	unsub chan logFeed

	wg *sync.WaitGroup
	db *bolt.DB
}

// New returns a Logger ready to Open.
func New(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		wg:    wg,
	}
}

// Open opens (creating if absent) the bolt database backing durable
// queries, and starts the pub/sub dispatch loop. ctx cancellation stops
// the dispatch loop and closes the database; subscribers are not drained
// first.
func (l *Logger) Open(ctx context.Context, dbPath string) error {
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("joblog: open %s: %w", dbPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return fmt.Errorf("joblog: create bucket: %w", err)
	}
	l.db = db

	l.wg.Add(1)
	go l.dispatchLoop(ctx)
	go l.persistLoop(ctx)

	return nil
}

func (l *Logger) dispatchLoop(ctx context.Context) {
	defer l.wg.Done()
	subs := map[logFeed]struct{}{}
	for {
		select {
		case <-ctx.Done():
			l.db.Close()
			return
		case ch := <-l.sub:
			subs[ch] = struct{}{}
		case ch := <-l.unsub:
			close(ch)
			delete(subs, ch)
		case entry := <-l.feed:
			for ch := range subs {
				ch <- entry
			}
		}
	}
}

func (l *Logger) persistLoop(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-feed:
			_ = l.persist(entry)
		}
	}
}

func (l *Logger) persist(entry Log) error {
	key := encodeKey(uint64(entry.Time))
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Stats().KeyN >= defaultMaxKeys {
			if k, _ := b.Cursor().First(); k != nil {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}
		return b.Put(key, value)
	})
}

// CancelFunc ends a subscription.
type CancelFunc func()

// Subscribe returns a live feed of every event dispatched from now on.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed
	cancel := func() { l.unSubscribe(feed) }
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// Query filters the durable event log.
type Query struct {
	Levels []Level
	JobIDs []string
	Limit  int
}

// Query reads matching events, most recent first.
func (l *Logger) Query(q Query) ([]Log, error) {
	var out []Log
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		c := b.Cursor()

		limit := q.Limit
		if limit == 0 {
			limit = defaultMaxKeys
		}

		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var entry Log
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("joblog: unmarshal: %w", err)
			}
			if !levelMatches(entry.Level, q.Levels) || !jobMatches(entry.JobID, q.JobIDs) {
				continue
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

func levelMatches(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func jobMatches(jobID string, jobIDs []string) bool {
	if jobIDs == nil {
		return true
	}
	for _, id := range jobIDs {
		if id == jobID {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

// Info starts a new info-level event.
func (l *Logger) Info() *Event { return l.newEvent(LevelInfo) }

// Warn starts a new warning-level event.
func (l *Logger) Warn() *Event { return l.newEvent(LevelWarning) }

// Error starts a new error-level event.
func (l *Logger) Error() *Event { return l.newEvent(LevelError) }

func (l *Logger) newEvent(level Level) *Event {
	return &Event{level: level, time: time.Now().UnixNano(), hub: l}
}
