// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-logicd/internal/api"
	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/ClusterCockpit/cc-logicd/internal/varprovider"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/ClusterCockpit/cc-logicd/pkg/schema"
	"github.com/gorilla/mux"
)

func testServer(t *testing.T) (*httptest.Server, *engine.Engine, *varprovider.Provider) {
	t.Helper()

	p := varprovider.New()
	if err := p.Seed("gw", "Temp", "float", "20.0"); err != nil {
		t.Fatal(err)
	}

	f, err := logic.NewField("double-temp", logic.KindFormula, schema.TypeFloat)
	if err != nil {
		t.Fatal(err)
	}
	f.AddSource("gw.Temp")
	f.Variant().(*logic.FormulaField).Source = "(%(1) * 2)"

	cfg := &logic.Config{}
	if err := cfg.Add(f); err != nil {
		t.Fatal(err)
	}
	eng, err := engine.New(p, cfg)
	if err != nil {
		t.Fatal(err)
	}

	restapi := &api.RestApi{Engine: eng}
	r := mux.NewRouter()
	restapi.MountRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, eng, p
}

func TestClientLifecycle(t *testing.T) {
	srv, eng, p := testServer(t)
	eng.Tick(time.Now())

	c := New(srv.URL)
	if c.State() != Disconnected {
		t.Fatalf("fresh client state %s", c.State())
	}

	ctx := context.Background()

	// First poll fetches the catalogue.
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != Steady {
		t.Fatalf("after config fetch: %s", c.State())
	}
	if c.Config().FieldCount() != 1 {
		t.Fatal("catalogue copy missing")
	}

	// Second poll drains the deltas.
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	v, ok := c.FieldValue("double-temp")
	if !ok {
		t.Fatal("field not found in catalogue copy")
	}
	if f, _ := v.Float(); f != 40.0 {
		t.Errorf("value %g, want 40.0", f)
	}

	// Upstream change propagates on the next delta poll.
	p.SendCommand("gw", "Temp", "21.0")
	eng.Tick(time.Now())
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	v, _ = c.FieldValue("double-temp")
	if f, _ := v.Float(); f != 42.0 {
		t.Errorf("value %g, want 42.0", f)
	}
}

func TestClientResyncOnCatalogueChange(t *testing.T) {
	srv, eng, _ := testServer(t)
	eng.Tick(time.Now())

	c := New(srv.URL)
	ctx := context.Background()
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	// Mutate the catalogue behind the client's back.
	nf, _ := logic.NewField("status", logic.KindPatternFmt, 0)
	nf.AddSource("gw.Temp")
	nf.Variant().(*logic.PatternFmtField).Pattern = "temp %(1)"
	if err := eng.AddField(nf); err != nil {
		t.Fatal(err)
	}

	// The next delta poll hits OutOfSync and flips to Resyncing; the
	// original delta is never retried.
	if err := c.Poll(ctx); err != ErrOutOfSync {
		t.Fatalf("got %v, want ErrOutOfSync", err)
	}
	if c.State() != Resyncing {
		t.Fatalf("state %s, want Resyncing", c.State())
	}

	// The poll after that re-fetches the catalogue.
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != Steady {
		t.Fatalf("state %s, want Steady", c.State())
	}
	if c.Config().FieldCount() != 2 {
		t.Error("resynced catalogue should have both fields")
	}
}

func TestClientFetchGraph(t *testing.T) {
	srv, eng, _ := testServer(t)

	g, _ := logic.NewField("temp-graph", logic.KindGraph, 0)
	g.AddSource("gw.Temp")
	gv := g.Variant().(*logic.GraphField)
	gv.Minutes = 1
	if err := eng.AddField(g); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	for ms := 0; ms <= 61000; ms += 500 {
		eng.Tick(base.Add(time.Duration(ms) * time.Millisecond))
	}

	c := New(srv.URL)
	ctx := context.Background()
	if err := c.Poll(ctx); err != nil {
		t.Fatal(err)
	}

	win, err := c.FetchGraph(ctx, "temp-graph")
	if err != nil {
		t.Fatal(err)
	}
	if len(win.Samples) != 1 || win.Samples[0] != 20.0 {
		t.Fatalf("window %+v, want one sample of 20.0", win)
	}
	serial := win.Serial

	// No new samples: the cached window is returned unchanged.
	win, err = c.FetchGraph(ctx, "temp-graph")
	if err != nil {
		t.Fatal(err)
	}
	if win.Serial != serial || len(win.Samples) != 1 {
		t.Errorf("caught-up window changed: %+v", win)
	}
}
