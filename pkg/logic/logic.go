// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package logic implements the virtual-field catalogue of the logic
// server: the descriptor envelope, the eight field variants, the boolean
// and arithmetic expression kernels, and the graph sample buffers. The
// package is shared between the server and client drivers; runtime-only
// state (poll handles, value serials) lives on the descriptors but is
// never persisted.
package logic

import (
	"math"

	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

const (
	// MaxFields caps the catalogue size.
	MaxFields = 92
	// MaxSrcFields caps the per-descriptor source list.
	MaxSrcFields = 16

	// GraphSampleCnt is the fixed capacity of a graph sample buffer.
	GraphSampleCnt = 60
	// MaxGraphMinutes is the largest configurable sample period, so a
	// full buffer covers at most eight hours.
	MaxGraphMinutes = 8
	// SubSampleSecs is the interval at which graph fields read their
	// source between samples.
	SubSampleSecs = 10

	// MaxAvgHours caps the running-average window.
	MaxAvgHours = 24
)

// SampleErr is stored as a graph sample when the source field was in
// error for the whole sample period. Clients treat it as a gap.
const SampleErr = float32(-math.MaxFloat32)

// EvalRes tells the server what to do after a variant evaluated: install
// a new value, leave the field alone, or put it into error state.
type EvalRes uint8

const (
	EvalError EvalRes = iota
	EvalNewValue
	EvalNoChange
)

// GraphQRes is the outcome of a graph sample query.
type GraphQRes uint8

const (
	GraphQError GraphQRes = iota
	GraphQNoNewSamples
	GraphQNewSamples
)

// Snapshot is the per-source view a variant evaluates against: the last
// value read from the poll cache, the source's error state and whether
// the value changed during the most recent tick.
type Snapshot struct {
	Value   schema.Value
	Err     bool
	Changed bool
}
