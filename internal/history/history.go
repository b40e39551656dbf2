// Package history keeps a local journal of lifecycle operations so that
// `mlt history` can show what was built and deployed, and how it ended.
//
// The journal is advisory: callers log journal failures and carry on.
package history

import (
	"context"
	"time"
)

// Outcome values stored in the journal.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Entry is one finished lifecycle operation.
type Entry struct {
	ID        int64
	Command   string
	Outcome   string
	Image     string
	RunID     string
	Duration  time.Duration
	Error     string
	StartedAt time.Time
	Metadata  map[string]string
}

// Journal records and lists entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Nop is a Journal that stores nothing.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }
