package domain

import "time"

// Location is the delivery location a session monitors.
type Location struct {
	Name        string   `json:"name" yaml:"name"`
	FullAddress string   `json:"full_address" yaml:"full_address"`
	AddressID   int      `json:"address_id" yaml:"address_id"`
	CellID      string   `json:"cell_id" yaml:"cell_id"`
	EntityType  string   `json:"entity_type" yaml:"entity_type"`
	EntityID    *int     `json:"entity_id,omitempty" yaml:"entity_id"`
	PlaceType   string   `json:"place_type" yaml:"place_type"`
	PlaceID     string   `json:"place_id,omitempty" yaml:"place_id"`
	Lat         *float64 `json:"lat,omitempty" yaml:"lat"`
	Lng         *float64 `json:"lng,omitempty" yaml:"lng"`
}

// ResolvedPlaceType is DSZ when the location is a known subzone, PLACE otherwise.
func (l Location) ResolvedPlaceType() string {
	if l.EntityID != nil {
		return "DSZ"
	}
	return "PLACE"
}

// SubscriptionConfig is the subscription context the claim endpoints need.
type SubscriptionConfig struct {
	CityID     int       `json:"city_id"`
	Topic      string    `json:"topic"`
	QoS        byte      `json:"qos"`
	ValidUntil time.Time `json:"valid_until"`
}

// RescueSession is the persisted view of one monitoring session.
type RescueSession struct {
	Location                  Location           `json:"location"`
	Subscription              SubscriptionConfig `json:"subscription"`
	StartedAt                 time.Time          `json:"started_at"`
	TotalCancellationMessages int64              `json:"total_cancellation_messages"`
	TotalClaimedWins          int64              `json:"total_claimed_wins"`
	TotalReconnects           int64              `json:"total_reconnects"`
}

// Counter names a persisted session counter.
type Counter string

const (
	CounterCancellations Counter = "total_cancellation_messages"
	CounterClaimedWins   Counter = "total_claimed_wins"
	CounterReconnects    Counter = "total_reconnects"
)

// Counters lists every session counter.
var Counters = []Counter{
	CounterCancellations,
	CounterClaimedWins,
	CounterReconnects,
}

// Value returns the counter's value in the session.
func (s *RescueSession) Value(c Counter) int64 {
	switch c {
	case CounterCancellations:
		return s.TotalCancellationMessages
	case CounterClaimedWins:
		return s.TotalClaimedWins
	case CounterReconnects:
		return s.TotalReconnects
	}
	return 0
}

// Uptime returns how long the session has been running.
func (s *RescueSession) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
