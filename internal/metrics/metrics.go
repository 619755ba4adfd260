// Package metrics records rescue monitor activity.
package metrics

import "time"

// Collector receives monitor events. Implementations must be safe for
// concurrent use.
type Collector interface {
	RecordMessage()
	RecordCancellation()
	RecordDuplicate()
	RecordClaim(state string, elapsed time.Duration)
	RecordReconnect()
	SetConnState(state string)
	SetInFlightClaims(n int)
	SetDedupSize(n int)
}

// Nop discards everything.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) RecordMessage()                    {}
func (Nop) RecordCancellation()               {}
func (Nop) RecordDuplicate()                  {}
func (Nop) RecordClaim(string, time.Duration) {}
func (Nop) RecordReconnect()                  {}
func (Nop) SetConnState(string)               {}
func (Nop) SetInFlightClaims(int)             {}
func (Nop) SetDedupSize(int)                  {}
