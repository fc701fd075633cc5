// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logic

import "testing"

func TestGraphDataPushAndSerial(t *testing.T) {
	g := &GraphData{}
	for i := 0; i < 5; i++ {
		pre := g.Serial()
		g.Push(float32(i))
		if g.Serial() != pre+1 {
			t.Fatalf("push %d: serial %d, want %d", i, g.Serial(), pre+1)
		}
	}
	if g.Len() != 5 {
		t.Errorf("len = %d, want 5", g.Len())
	}
}

func TestGraphDataOverflowDropsOldest(t *testing.T) {
	g := &GraphData{}
	for i := 0; i < GraphSampleCnt+10; i++ {
		g.Push(float32(i))
	}
	if g.Len() != GraphSampleCnt {
		t.Fatalf("len = %d, want %d", g.Len(), GraphSampleCnt)
	}

	serial, samples, res := g.QuerySamples(0)
	if res != GraphQNewSamples {
		t.Fatalf("res = %d, want new samples", res)
	}
	if serial != GraphSampleCnt+10 {
		t.Errorf("serial = %d, want %d", serial, GraphSampleCnt+10)
	}
	if len(samples) != GraphSampleCnt {
		t.Fatalf("returned %d samples, want %d", len(samples), GraphSampleCnt)
	}
	if samples[0] != 10 || samples[len(samples)-1] != GraphSampleCnt+9 {
		t.Errorf("window is [%g..%g], want [10..%d]", samples[0], samples[len(samples)-1], GraphSampleCnt+9)
	}
}

func TestGraphDataIncrementalQuery(t *testing.T) {
	g := &GraphData{}
	for i := 0; i < 10; i++ {
		g.Push(float32(i))
	}

	serial, samples, res := g.QuerySamples(7)
	if res != GraphQNewSamples || serial != 10 {
		t.Fatalf("res %d serial %d", res, serial)
	}
	if len(samples) != 3 || samples[0] != 7 || samples[2] != 9 {
		t.Fatalf("got %v, want [7 8 9]", samples)
	}

	if _, _, res := g.QuerySamples(10); res != GraphQNoNewSamples {
		t.Errorf("caught-up query: res %d, want no new samples", res)
	}

	if _, _, res := g.QuerySamples(99); res != GraphQError {
		t.Errorf("future serial: res %d, want error", res)
	}
}

func TestGraphDataReset(t *testing.T) {
	g := &GraphData{}
	g.Push(1)
	g.Reset()
	if g.Serial() != 0 || g.Len() != 0 {
		t.Errorf("reset left serial %d len %d", g.Serial(), g.Len())
	}
}
