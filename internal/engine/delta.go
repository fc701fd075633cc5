// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"bytes"

	"github.com/ClusterCockpit/cc-logicd/internal/metrics"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
)

// FetchDeltas returns the encoded values of every descriptor whose
// value serial advanced past the client's high-water mark. Because
// value serials are drawn from one monotonic source, a single mark
// identifies everything the client has acknowledged.
//
// The client's remembered catalogue serial must match the live one; a
// mismatch means the catalogue changed shape and the frames' indices
// would be meaningless, so the client has to resync.
func (e *Engine) FetchDeltas(knownCfgSerial, sinceValueSerial uint64) ([]byte, uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if knownCfgSerial != e.cfg.Serial() {
		metrics.DeltaRequests.WithLabelValues("out_of_sync").Inc()
		return nil, 0, ErrOutOfSync
	}

	var buf bytes.Buffer
	w := schema.NewStreamWriter(&buf)
	count := 0
	for idx, f := range e.cfg.Fields() {
		if !f.NormalField() || f.ValueSerial() <= sinceValueSerial {
			continue
		}
		logic.AppendDeltaFrame(w, uint32(idx), f.Current())
		count++
	}
	if err := w.Err(); err != nil {
		return nil, 0, err
	}

	if count == 0 {
		metrics.DeltaRequests.WithLabelValues("empty").Inc()
	} else {
		metrics.DeltaRequests.WithLabelValues("ok").Inc()
	}
	return buf.Bytes(), e.serialSrc, nil
}
