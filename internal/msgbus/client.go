// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package msgbus wraps the NATS connection the server uses to ingest
// driver field values and to publish virtual-field changes. Both sides
// speak Influx line protocol so existing collector tooling can tap the
// subjects directly.
package msgbus

import (
	"encoding/json"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/nats-io/nats.go"
)

// Keys is the decoded "nats" section of the program config.
var Keys struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Subject carrying driver field values into the variable provider.
	IngestSubject string `json:"ingest-subject"`
	// Subject virtual-field changes are published on.
	PublishSubject string `json:"publish-subject"`
}

var (
	clientOnce     sync.Once
	clientInstance *Client
)

// Client wraps a NATS connection with subscription tracking. All
// methods are safe for concurrent use; a nil Client (bus not
// configured) is inert.
type Client struct {
	conn          *nats.Conn
	subscriptions []*nats.Subscription
	mu            sync.Mutex
}

// MessageHandler is the callback for received messages.
type MessageHandler func(subject string, data []byte)

// Init decodes the raw config section. A missing section leaves the
// bus disabled.
func Init(rawConfig json.RawMessage) {
	if rawConfig == nil {
		return
	}
	if err := json.Unmarshal(rawConfig, &Keys); err != nil {
		cclog.Errorf("msgbus: cannot decode nats config: %s", err.Error())
	}
	if Keys.IngestSubject == "" {
		Keys.IngestSubject = "cc-logicd.fields"
	}
	if Keys.PublishSubject == "" {
		Keys.PublishSubject = "cc-logicd.values"
	}
}

// Connect establishes the singleton connection. Failures are warnings,
// the server runs fine without the bus.
func Connect() {
	clientOnce.Do(func() {
		if Keys.Address == "" {
			cclog.Info("msgbus: no NATS address configured, bus disabled")
			return
		}

		opts := []nats.Option{nats.MaxReconnects(-1)}
		if Keys.Username != "" {
			opts = append(opts, nats.UserInfo(Keys.Username, Keys.Password))
		}
		conn, err := nats.Connect(Keys.Address, opts...)
		if err != nil {
			cclog.Warnf("msgbus: NATS connection failed: %s", err.Error())
			return
		}
		clientInstance = &Client{conn: conn}
		cclog.Infof("msgbus: connected to %s", Keys.Address)
	})
}

// GetClient returns the singleton, nil when the bus is disabled.
func GetClient() *Client {
	return clientInstance
}

// Subscribe registers a handler on a subject.
func (c *Client) Subscribe(subject string, handler MessageHandler) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)
	return nil
}

// Publish sends a payload; errors are logged, never fatal.
func (c *Client) Publish(subject string, data []byte) {
	if c == nil {
		return
	}
	if err := c.conn.Publish(subject, data); err != nil {
		cclog.Warnf("msgbus: publish on %s failed: %s", subject, err.Error())
	}
}

// Close drains the subscriptions and shuts the connection down.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			cclog.Warnf("msgbus: unsubscribe failed: %s", err.Error())
		}
	}
	c.subscriptions = nil
	c.conn.Close()
}
