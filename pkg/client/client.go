// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package client implements the driver-side consumer of the logic
// server: it fetches the catalogue, keeps field values fresh through
// incremental delta polls, and serves graph windows out of a small
// cache. The connection runs the usual lifecycle
//
//	Disconnected -> FetchingConfig -> Steady -> Resyncing -> Steady
//
// where any OutOfSync answer from the server throws the client back
// into Resyncing and the next poll re-fetches the whole catalogue.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
	lru "github.com/hashicorp/golang-lru/v2"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	FetchingConfig
	Steady
	Resyncing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case FetchingConfig:
		return "FetchingConfig"
	case Steady:
		return "Steady"
	case Resyncing:
		return "Resyncing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrOutOfSync reports that the server rejected our serial; the client
// has already scheduled a resync.
var ErrOutOfSync = errors.New("out of sync with server, resyncing")

const graphCacheSize = 16

// Client is a logic-server consumer. Poll drives the state machine;
// accessors are safe for concurrent use with Poll.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu          sync.RWMutex
	state       State
	cfg         *logic.Config
	cfgSerial   uint64
	valueSerial uint64

	graphs *lru.Cache[string, *GraphWindow]
}

// GraphWindow is the cached sample window of one graph field.
type GraphWindow struct {
	Serial  uint64
	Samples []float32
}

// Option configures the client.
type Option func(*Client)

// WithToken sets the bearer token for mutating calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http client, whose timeout
// bounds every request.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		state:   Disconnected,
	}
	c.graphs, _ = lru.New[string, *GraphWindow](graphCacheSize)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Config returns the current catalogue copy, nil before the first
// successful fetch.
func (c *Client) Config() *logic.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// FieldValue returns the last delivered value of a field by name.
func (c *Client) FieldValue(name string) (schema.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg == nil {
		return schema.Value{}, false
	}
	i, ok := c.cfg.FindByName(name)
	if !ok {
		return schema.Value{}, false
	}
	f, _ := c.cfg.At(i)
	return *f.Current(), true
}

// Poll advances the state machine by one step: a config fetch when the
// catalogue copy is missing or stale, a delta fetch otherwise.
func (c *Client) Poll(ctx context.Context) error {
	switch c.State() {
	case Disconnected, FetchingConfig, Resyncing:
		return c.fetchConfig(ctx)
	default:
		return c.fetchDeltas(ctx)
	}
}

func (c *Client) fetchConfig(ctx context.Context) error {
	c.setState(FetchingConfig)

	body, hdr, err := c.get(ctx, "/api/config/")
	if err != nil {
		c.setState(Disconnected)
		return err
	}
	serial, err := strconv.ParseUint(hdr.Get("X-Catalogue-Serial"), 10, 64)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("bad catalogue serial header: %w", err)
	}
	cfg := &logic.Config{}
	if err := cfg.ReadFrom(bytes.NewReader(body)); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("decoding catalogue: %w", err)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.cfgSerial = serial
	c.valueSerial = 0
	c.state = Steady
	c.mu.Unlock()
	c.graphs.Purge()
	return nil
}

func (c *Client) fetchDeltas(ctx context.Context) error {
	c.mu.RLock()
	cfgSerial, since := c.cfgSerial, c.valueSerial
	c.mu.RUnlock()

	path := fmt.Sprintf("/api/deltas/?cfg-serial=%d&since=%d", cfgSerial, since)
	body, hdr, err := c.get(ctx, path)
	if errors.Is(err, errConflict) {
		// No retry of the delta itself; the next poll refetches.
		c.setState(Resyncing)
		return ErrOutOfSync
	}
	if err != nil {
		return err
	}

	high, err := strconv.ParseUint(hdr.Get("X-Value-Serial"), 10, 64)
	if err != nil {
		return fmt.Errorf("bad value serial header: %w", err)
	}
	deltas, err := logic.DecodeDeltas(body)
	if err != nil {
		return fmt.Errorf("decoding deltas: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range deltas {
		f, err := c.cfg.At(d.Index)
		if err != nil {
			return fmt.Errorf("delta for unknown index %d", d.Index)
		}
		if d.Err {
			f.Current().SetError(true)
		} else {
			*f.Current() = d.Value
		}
	}
	c.valueSerial = high
	return nil
}

// FetchGraph returns the graph field's sample window, incrementally
// refreshed from the server. The cached window keeps the last samples
// up to the buffer capacity.
func (c *Client) FetchGraph(ctx context.Context, name string) (*GraphWindow, error) {
	win, ok := c.graphs.Get(name)
	if !ok {
		win = &GraphWindow{}
	}

	c.mu.RLock()
	cfgSerial := c.cfgSerial
	c.mu.RUnlock()

	path := fmt.Sprintf("/api/graph/%s?cfg-serial=%d&since=%d", name, cfgSerial, win.Serial)
	body, _, err := c.get(ctx, path)
	if errors.Is(err, errConflict) {
		// Either the catalogue moved or the buffer restarted. Drop the
		// window; a fresh poll starts from serial zero.
		c.graphs.Remove(name)
		c.setState(Resyncing)
		return nil, ErrOutOfSync
	}
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result  string    `json:"result"`
		Serial  uint64    `json:"serial"`
		Samples []float32 `json:"samples"`
	}
	if err := jsonDecode(body, &resp); err != nil {
		return nil, err
	}
	if resp.Result == "new-samples" {
		merged := append(append([]float32{}, win.Samples...), resp.Samples...)
		if len(merged) > logic.GraphSampleCnt {
			merged = merged[len(merged)-logic.GraphSampleCnt:]
		}
		win = &GraphWindow{Serial: resp.Serial, Samples: merged}
		c.graphs.Add(name, win)
	}
	return win, nil
}

// ResetElapsed asks the server to zero an elapsed-time accumulator.
func (c *Client) ResetElapsed(ctx context.Context, name string) error {
	return c.post(ctx, "/api/reset/"+name, nil)
}

// WriteField sends a value write for a writeable virtual field.
func (c *Client) WriteField(ctx context.Context, name, value string) error {
	payload := []byte(fmt.Sprintf(`{"value":%q}`, value))
	return c.post(ctx, "/api/fields/"+name, payload)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
