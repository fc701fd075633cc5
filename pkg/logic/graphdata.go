// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import (
	"sync"
)

// GraphData is the fixed-capacity circular sample buffer behind a graph
// field. Pushes come from the scheduler, queries from client handler
// goroutines; the buffer carries its own lock so a handler can read one
// graph while the scheduler appends to another.
//
// The serial is the count of pushes since creation and is what clients
// use for incremental delivery: a client that saw serial S asks for
// everything after S and gets at most the buffer capacity back.
type GraphData struct {
	mu      sync.Mutex
	samples [GraphSampleCnt]float32
	start   int
	count   int
	serial  uint64
}

// Push appends a sample, dropping the oldest once the buffer is full,
// and advances the serial.
func (g *GraphData) Push(v float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.count < len(g.samples) {
		g.samples[(g.start+g.count)%len(g.samples)] = v
		g.count++
	} else {
		g.samples[g.start] = v
		g.start = (g.start + 1) % len(g.samples)
	}
	g.serial++
}

// Serial returns the number of pushes so far.
func (g *GraphData) Serial() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.serial
}

// Len returns the number of live samples.
func (g *GraphData) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// QuerySamples returns the samples pushed after knownSerial, oldest
// first, along with the current serial. A client that has fallen more
// than a full buffer behind gets the whole buffer.
func (g *GraphData) QuerySamples(knownSerial uint64) (uint64, []float32, GraphQRes) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if knownSerial > g.serial {
		// The buffer was reset underneath the client.
		return g.serial, nil, GraphQError
	}
	if knownSerial == g.serial {
		return g.serial, nil, GraphQNoNewSamples
	}

	n := int(g.serial - knownSerial)
	if n > g.count {
		n = g.count
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = g.samples[(g.start+g.count-n+i)%len(g.samples)]
	}
	return g.serial, out, GraphQNewSamples
}

// Reset drops all samples and restarts the serial.
func (g *GraphData) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.start, g.count, g.serial = 0, 0, 0
}
