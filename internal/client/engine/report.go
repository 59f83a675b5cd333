package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/estisync/internal/client/assets"
)

// Report describes what one sync cycle or bootstrap did.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	// Pushed counts queue entries the remote accepted.
	Pushed int
	// Conflicts counts entries kept queued because the remote holds a newer
	// version.
	Conflicts int
	// Rejected counts other refusals; Dropped those that hit the attempt limit.
	Rejected int
	Dropped  int
	// PushAborted is set when a transport failure ended the push phase.
	PushAborted bool

	// Pulled is the number of rows fetched, Merged the number written, by table.
	Pulled map[string]int
	Merged map[string]int
	// Superseded counts queue entries removed because a pulled row won.
	Superseded int

	Photos assets.Stats
	// PhotosSkipped is set when no usable session allowed downloads.
	PhotosSkipped bool

	// Errors holds the non-fatal failures of the cycle.
	Errors []error
}

func newReport(now time.Time) *Report {
	return &Report{StartedAt: now, Pulled: map[string]int{}, Merged: map[string]int{}}
}

func (r *Report) addError(scope string, err error) {
	r.Errors = append(r.Errors, fmt.Errorf("%s: %w", scope, err))
}

// Complete reports whether every phase ran without error.
func (r *Report) Complete() bool {
	return !r.PushAborted && len(r.Errors) == 0
}

// Err joins the non-fatal failures, or returns nil.
func (r *Report) Err() error {
	return errors.Join(r.Errors...)
}

// PulledTotal sums Pulled across tables.
func (r *Report) PulledTotal() int {
	n := 0
	for _, v := range r.Pulled {
		n += v
	}
	return n
}

// MergedTotal sums Merged across tables.
func (r *Report) MergedTotal() int {
	n := 0
	for _, v := range r.Merged {
		n += v
	}
	return n
}
