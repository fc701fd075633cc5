// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/ClusterCockpit/cc-logicd/internal/varprovider"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func setupAPI(t *testing.T, secret string) (*RestApi, *engine.Engine, *mux.Router) {
	t.Helper()

	p := varprovider.New()
	require.NoError(t, p.Seed("gw", "Door1", "string", "open"))
	require.NoError(t, p.Seed("gw", "Door2", "string", "open"))

	f, err := logic.NewField("doors-open", logic.KindBool, 0)
	require.NoError(t, err)
	require.NoError(t, f.AddSource("gw.Door1"))
	require.NoError(t, f.AddSource("gw.Door2"))
	bv := f.Variant().(*logic.BoolField)
	bv.Op = logic.LogOpAND
	bv.Exprs[0] = logic.Predicate{Op: logic.CompIsEqual, Operand: "open"}
	bv.Exprs[1] = logic.Predicate{Op: logic.CompIsEqual, Operand: "open"}

	cfg := &logic.Config{}
	require.NoError(t, cfg.Add(f))

	eng, err := engine.New(p, cfg)
	require.NoError(t, err)
	eng.Tick(time.Now())

	restapi := &RestApi{Engine: eng, APISecret: secret}
	r := mux.NewRouter()
	restapi.MountRoutes(r)
	return restapi, eng, r
}

func TestGetConfigAndDeltas(t *testing.T) {
	_, eng, r := setupAPI(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	serial, err := strconv.ParseUint(rec.Header().Get(HdrCatalogueSerial), 10, 64)
	require.NoError(t, err)
	require.Equal(t, eng.Serial(), serial)

	cfg, err := engine.LoadBlob(rec.Body.Bytes())
	require.NoError(t, err)
	require.Equal(t, 1, cfg.FieldCount())

	// Delta fetch with the just-learned serial.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/deltas/?cfg-serial="+strconv.FormatUint(serial, 10)+"&since=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	deltas, err := logic.DecodeDeltas(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	b, err := deltas[0].Value.Bool()
	require.NoError(t, err)
	require.True(t, b)

	// A stale catalogue serial must yield 409.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deltas/?cfg-serial=999&since=0", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeltasBadParams(t *testing.T) {
	_, _, r := setupAPI(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/deltas/?cfg-serial=xyz", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphEndpoints(t *testing.T) {
	_, eng, r := setupAPI(t, "")

	g, err := logic.NewField("temp-graph", logic.KindGraph, 0)
	require.NoError(t, err)
	require.NoError(t, g.AddSource("gw.Door1"))
	g.Variant().(*logic.GraphField).Minutes = 1
	// Door1 is a string source; the graph variant just records nothing
	// usable, which is fine for exercising the query surface.
	require.NoError(t, eng.AddField(g))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graphs/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var names map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	require.Equal(t, []string{"temp-graph"}, names["graphs"])

	serial := strconv.FormatUint(eng.Serial(), 10)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/graph/temp-graph?cfg-serial="+serial+"&since=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GraphApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "no-new-samples", resp.Result)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/graph/nope?cfg-serial="+serial+"&since=0", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutConfigReplacesCatalogue(t *testing.T) {
	_, eng, r := setupAPI(t, "")

	nc := &logic.Config{}
	f, err := logic.NewField("renamed", logic.KindPatternFmt, 0)
	require.NoError(t, err)
	require.NoError(t, f.AddSource("gw.Door1"))
	f.Variant().(*logic.PatternFmtField).Pattern = "door: %(1)"
	require.NoError(t, nc.Add(f))

	var buf bytes.Buffer
	require.NoError(t, nc.WriteTo(&buf))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/config/", &buf))
	require.Equal(t, http.StatusOK, rec.Code)

	blob, _, err := eng.FetchConfig()
	require.NoError(t, err)
	cfg, err := engine.LoadBlob(blob)
	require.NoError(t, err)
	_, ok := cfg.FindByName("renamed")
	require.True(t, ok)

	// Garbage blobs are a 400, not a server fault.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/config/", bytes.NewReader([]byte("junk"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecuredRoutes(t *testing.T) {
	secret := "test-secret"
	_, _, r := setupAPI(t, secret)

	// Reads stay open.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Mutations without a token are rejected.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/config/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// With a valid HS256 token they pass.
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/api/config/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWriteAndResetEndpoints(t *testing.T) {
	_, eng, r := setupAPI(t, "")

	f, err := logic.NewField("heat-time", logic.KindElapsedTime, 0)
	require.NoError(t, err)
	require.NoError(t, f.AddSource("gw.Door1"))
	f.Variant().(*logic.ElapsedTimeField).Exprs[0] = logic.Predicate{Op: logic.CompIsEqual, Operand: "open"}
	require.NoError(t, eng.AddField(f))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset/heat-time", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset/doors-open", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := bytes.NewReader([]byte(`{"value":"true"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fields/heat-time", body))
	require.Equal(t, http.StatusOK, rec.Code)

	body = bytes.NewReader([]byte(`{"value":"x"}`))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/fields/doors-open", body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := setupAPI(t, "")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	inErr, ok := resp.Fields["doors-open"]
	require.True(t, ok)
	require.False(t, inErr)
}
