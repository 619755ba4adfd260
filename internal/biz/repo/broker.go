package repo

import (
	"context"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
)

// BrokerHandlers are the transport callbacks. Implementations must call them
// from the transport's own goroutines and the callee must not block.
type BrokerHandlers struct {
	OnMessage      func(msg domain.InboundMessage)
	OnLost         func(err error)
	OnReconnecting func()
	OnResubscribed func()
}

// BrokerTransport dials a publish/subscribe broker.
type BrokerTransport interface {
	// Dial connects, subscribes to creds.Topic and returns once the
	// subscription is acknowledged.
	Dial(ctx context.Context, creds domain.RescueCredentials, h BrokerHandlers) (BrokerConn, error)
}

// BrokerConn is one live broker connection.
type BrokerConn interface {
	IsConnected() bool
	Close()
}

// ResourceSupervisor keeps the process from being suspended while a
// session is active.
type ResourceSupervisor interface {
	Acquire(ctx context.Context) error
	Release() error
}
