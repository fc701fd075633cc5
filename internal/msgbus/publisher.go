// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package msgbus

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// PublishDeltas encodes installed field values as line protocol and
// publishes them. Wired as the engine's publish hook; runs outside the
// engine lock on the scheduler goroutine.
//
// One line per field:
//
//	logicfld,field=KitchenTemp value=21.5 1700000000000000000
//	logicfld,field=DoorsOpen error=true 1700000000000000000
func PublishDeltas(deltas []engine.ValueDelta) {
	c := GetClient()
	if c == nil {
		return
	}

	now := time.Now()
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)
	for _, d := range deltas {
		enc.StartLine("logicfld")
		enc.AddTag("field", d.Name)
		switch {
		case d.Err:
			enc.AddField("error", lineprotocol.BoolValue(true))
		case d.IsNum:
			if v, ok := lineprotocol.FloatValue(d.Num); ok {
				enc.AddField("value", v)
			}
		default:
			if v, ok := lineprotocol.StringValue(d.Text); ok {
				enc.AddField("value", v)
			}
		}
		enc.EndLine(now)
	}
	if err := enc.Err(); err != nil {
		cclog.Warnf("msgbus: encoding deltas failed: %s", err.Error())
		return
	}
	c.Publish(Keys.PublishSubject, enc.Bytes())
}
