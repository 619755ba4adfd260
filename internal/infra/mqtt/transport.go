// Package mqtt is the MQTT broker transport built on the Eclipse Paho client.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/rescuewatch/rescue-monitor/internal/biz/domain"
	"github.com/rescuewatch/rescue-monitor/internal/biz/repo"
)

const (
	connectTimeout = 30 * time.Second
	clientIDPrefix = "rescue_monitor_"
)

// Config configures the transport.
type Config struct {
	NodeID      int64 // snowflake node for client ids, 0-1023
	InsecureTLS bool
}

// Transport dials MQTT brokers. Each Dial creates a fresh clean-session
// client with automatic reconnect.
type Transport struct {
	node *snowflake.Node
	tls  *tls.Config
	log  *zap.Logger
}

var _ repo.BrokerTransport = (*Transport)(nil)

// NewTransport creates a new MQTT transport
func NewTransport(cfg Config, log *zap.Logger) (*Transport, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Transport{
		node: node,
		tls:  &tls.Config{InsecureSkipVerify: cfg.InsecureTLS, MinVersion: tls.VersionTLS12},
		log:  log.Named("mqtt"),
	}, nil
}

// ClientID returns a unique client identifier.
func (t *Transport) ClientID() string {
	return clientIDPrefix + t.node.Generate().String()
}

// Dial connects and subscribes. It returns after the broker acknowledged the
// subscription.
func (t *Transport) Dial(ctx context.Context, creds domain.RescueCredentials, h repo.BrokerHandlers) (repo.BrokerConn, error) {
	c := &conn{log: t.log, topic: creds.Topic, qos: creds.QoS, h: h}

	clientID := t.ClientID()
	opts := paho.NewClientOptions().
		AddBroker(BrokerURL(creds.BrokerHost)).
		SetClientID(clientID).
		SetUsername(creds.Username).
		SetPassword(creds.Password).
		SetCleanSession(true).
		SetKeepAlive(creds.KeepAlive()).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false).
		SetTLSConfig(t.tls).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("connection lost", zap.Error(err))
			h.OnLost(err)
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			c.log.Info("reconnecting")
			h.OnReconnecting()
		}).
		SetOnConnectHandler(c.onConnect)

	c.client = paho.NewClient(opts)
	t.log.Info("connecting", zap.String("broker", creds.BrokerHost), zap.String("client_id", clientID))

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("connect %s: %w", creds.BrokerHost, err)
	}
	if err := c.subscribe(ctx); err != nil {
		c.client.Disconnect(250)
		return nil, err
	}
	c.ready.Store(true)
	return c, nil
}

type conn struct {
	client paho.Client
	log    *zap.Logger
	topic  string
	qos    byte
	h      repo.BrokerHandlers

	ready  atomic.Bool
	closed atomic.Bool
}

func (c *conn) IsConnected() bool {
	return !c.closed.Load() && c.client.IsConnectionOpen()
}

func (c *conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.client.Disconnect(250)
}

// onConnect resubscribes after an automatic reconnect. The first connect is
// handled by Dial.
func (c *conn) onConnect(_ paho.Client) {
	if !c.ready.Load() || c.closed.Load() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := c.subscribe(ctx); err != nil {
			c.log.Error("resubscribe failed", zap.Error(err))
			c.h.OnLost(err)
			return
		}
		c.h.OnResubscribed()
	}()
}

func (c *conn) subscribe(ctx context.Context) error {
	token := c.client.Subscribe(c.topic, c.qos, func(_ paho.Client, m paho.Message) {
		c.h.OnMessage(domain.InboundMessage{
			Topic:      m.Topic(),
			Payload:    m.Payload(),
			ReceivedAt: time.Now(),
		})
	})
	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	if st, ok := token.(*paho.SubscribeToken); ok {
		if code, found := st.Result()[c.topic]; found && code == 0x80 {
			return fmt.Errorf("subscribe %s: rejected by broker", c.topic)
		}
	}
	c.log.Info("subscribed", zap.String("topic", c.topic), zap.Uint8("qos", c.qos))
	return nil
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BrokerURL normalizes a broker host into a Paho server URL. Hosts without a
// scheme default to TLS.
func BrokerURL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	if !strings.Contains(host, ":") {
		host += ":443"
	}
	return "ssl://" + host
}
