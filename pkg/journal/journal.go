// Package journal provides an append-only audit log of exchange events,
// one JSON object per line. It is wired into the engine as an event sink;
// the pebble store keeps the queryable history, the journal is the flat
// file an auditor can tail.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/flashdex/flashdex/pkg/exchange"
)

type Journal interface {
	Append(ev exchange.Event)
}

type NopJournal struct{}

func NewNopJournal() *NopJournal              { return &NopJournal{} }
func (j *NopJournal) Append(_ exchange.Event) {}

type FileJournal struct {
	log *zap.Logger

	mu  sync.Mutex
	f   *os.File
	err error // first append failure, kept until Close
}

func NewFileJournal(path string, logger *zap.Logger) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileJournal{f: f, log: logger}, nil
}

// Append writes one event. An audit log must never drop entries silently:
// failures are logged and remembered, readable via Err.
func (j *FileJournal) Append(ev exchange.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		j.fail(ev, err)
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := fmt.Fprintln(j.f, string(data)); err != nil {
		j.err = firstErr(j.err, err)
		j.log.Error("journal_append_failed",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

func (j *FileJournal) fail(ev exchange.Event, err error) {
	j.mu.Lock()
	j.err = firstErr(j.err, err)
	j.mu.Unlock()
	j.log.Error("journal_append_failed",
		zap.String("kind", string(ev.Kind)),
		zap.Error(err))
}

// Err returns the first append failure since the journal was opened, nil if
// every event made it to disk.
func (j *FileJournal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

func firstErr(have, next error) error {
	if have != nil {
		return have
	}
	return next
}

// Sink adapts a Journal to the engine's event sink interface.
func Sink(j Journal) exchange.Sink {
	return exchange.SinkFunc(j.Append)
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
