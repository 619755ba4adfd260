package domain

import "time"

// RescueCredentials are the broker connection parameters issued for one
// subscription channel. Values are immutable once issued.
type RescueCredentials struct {
	BrokerHost       string
	Username         string
	Password         string
	KeepAliveSeconds int
	Topic            string
	QoS              byte
	ValidUntil       time.Time
	CityID           int // 0 when the issuer did not report one
}

// Apply copies the subscription fields of the credentials into sub.
func (c RescueCredentials) Apply(sub SubscriptionConfig) SubscriptionConfig {
	sub.Topic = c.Topic
	sub.QoS = c.QoS
	sub.ValidUntil = c.ValidUntil
	if c.CityID != 0 {
		sub.CityID = c.CityID
	}
	return sub
}

// KeepAlive returns the keep-alive interval, falling back to 60s when the
// issuer sent zero.
func (c RescueCredentials) KeepAlive() time.Duration {
	if c.KeepAliveSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.KeepAliveSeconds) * time.Second
}

// IsStale reports whether the credentials must be refreshed before use.
// A zero ValidUntil means the issuer did not bound them.
func (c RescueCredentials) IsStale(now time.Time) bool {
	if c.ValidUntil.IsZero() {
		return false
	}
	return now.After(c.ValidUntil)
}

// Valid checks the fields a transport needs to dial.
func (c RescueCredentials) Valid() bool {
	return c.BrokerHost != "" && c.Topic != "" && c.QoS <= 2
}
