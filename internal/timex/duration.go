// Package timex holds time helpers shared by configuration and the sync engine.
package timex

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so JSON can carry either a string such as
// "30s" or an integer number of nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// Clock returns the current time. The sync engine takes one so tests can pin
// updated_at / deleted_at stamps.
type Clock func() time.Time

// UTC is the production clock.
func UTC() time.Time { return time.Now().UTC() }

// StampLayout is RFC 3339 in UTC with fixed-width nanoseconds, so stamps
// sort lexically.
const StampLayout = "2006-01-02T15:04:05.000000000Z"

// Stamp formats t the way rows carry timestamps.
func Stamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}
