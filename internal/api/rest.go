// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api is the client protocol surface: catalogue transfer,
// incremental field deltas, graph sample queries and the small set of
// commands. Catalogue and delta payloads are the binary stream formats
// from pkg/logic and pkg/schema; everything else is JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/gorilla/mux"
)

// Limit on uploaded catalogue blobs; a full catalogue is a few KB.
const maxConfigBlob = 1 << 20

const (
	// HdrCatalogueSerial carries the catalogue serial on config and
	// delta responses.
	HdrCatalogueSerial = "X-Catalogue-Serial"
	// HdrValueSerial carries the value-serial high-water mark on delta
	// responses; clients echo it in the next fetch.
	HdrValueSerial = "X-Value-Serial"
)

type RestApi struct {
	Engine *engine.Engine
	// APISecret guards mutating routes when non-empty.
	APISecret string
}

func (api *RestApi) MountRoutes(r *mux.Router) {
	r = r.PathPrefix("/api").Subrouter()
	r.StrictSlash(true)

	r.HandleFunc("/config/", api.getConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/", api.secured(api.putConfig)).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/config/", api.secured(api.resetConfig)).Methods(http.MethodDelete)
	r.HandleFunc("/config/fields/{index}", api.secured(api.deleteField)).Methods(http.MethodDelete)
	r.HandleFunc("/config/move/{index}", api.secured(api.moveField)).Methods(http.MethodPost)

	r.HandleFunc("/deltas/", api.getDeltas).Methods(http.MethodGet)
	r.HandleFunc("/graph/{name}", api.getGraph).Methods(http.MethodGet)
	r.HandleFunc("/graphs/", api.getGraphNames).Methods(http.MethodGet)

	r.HandleFunc("/reset/{name}", api.secured(api.resetElapsed)).Methods(http.MethodPost)
	r.HandleFunc("/fields/{name}", api.secured(api.writeField)).Methods(http.MethodPost)
	r.HandleFunc("/drivers/{moniker}/{field}", api.secured(api.driverCommand)).Methods(http.MethodPost)

	r.HandleFunc("/health/", api.getHealth).Methods(http.MethodGet)
}

// ErrorResponse model
type ErrorResponse struct {
	// Statustext of Errorcode
	Status string `json:"status"`
	Error  string `json:"error"` // Error Message
}

func handleError(err error, statusCode int, rw http.ResponseWriter) {
	cclog.Warnf("REST ERROR : %s", err.Error())
	rw.Header().Add("Content-Type", "application/json")
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(ErrorResponse{
		Status: http.StatusText(statusCode),
		Error:  err.Error(),
	})
}

func decode(r io.Reader, val any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(val)
}

func (api *RestApi) getConfig(rw http.ResponseWriter, r *http.Request) {
	blob, serial, err := api.Engine.FetchConfig()
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Header().Set(HdrCatalogueSerial, strconv.FormatUint(serial, 10))
	rw.Write(blob)
}

func (api *RestApi) putConfig(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBlob))
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	cfg, err := engine.LoadBlob(body)
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	if err := api.Engine.ReplaceConfig(cfg); err != nil {
		handleError(err, http.StatusUnprocessableEntity, rw)
		return
	}
	rw.Header().Set(HdrCatalogueSerial, strconv.FormatUint(api.Engine.Serial(), 10))
	rw.WriteHeader(http.StatusOK)
}

func (api *RestApi) resetConfig(rw http.ResponseWriter, r *http.Request) {
	if err := api.Engine.ResetCatalogue(); err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func (api *RestApi) deleteField(rw http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		handleError(fmt.Errorf("bad field index: %w", err), http.StatusBadRequest, rw)
		return
	}
	if err := api.Engine.RemoveFieldAt(idx); err != nil {
		handleError(err, http.StatusUnprocessableEntity, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func (api *RestApi) moveField(rw http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		handleError(fmt.Errorf("bad field index: %w", err), http.StatusBadRequest, rw)
		return
	}
	dir := r.URL.Query().Get("dir")
	if dir != "up" && dir != "down" {
		handleError(errors.New("dir must be 'up' or 'down'"), http.StatusBadRequest, rw)
		return
	}
	if err := api.Engine.MoveField(idx, dir == "up"); err != nil {
		handleError(err, http.StatusUnprocessableEntity, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func (api *RestApi) getDeltas(rw http.ResponseWriter, r *http.Request) {
	cfgSerial, err := queryU64(r, "cfg-serial")
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	since, err := queryU64(r, "since")
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	payload, high, err := api.Engine.FetchDeltas(cfgSerial, since)
	if errors.Is(err, engine.ErrOutOfSync) {
		handleError(err, http.StatusConflict, rw)
		return
	}
	if err != nil {
		handleError(err, http.StatusInternalServerError, rw)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Header().Set(HdrCatalogueSerial, strconv.FormatUint(cfgSerial, 10))
	rw.Header().Set(HdrValueSerial, strconv.FormatUint(high, 10))
	rw.Write(payload)
}

// GraphApiResponse model
type GraphApiResponse struct {
	Result  string    `json:"result"` // "new-samples", "no-new-samples"
	Serial  uint64    `json:"serial"`
	Samples []float32 `json:"samples,omitempty"`
}

func (api *RestApi) getGraph(rw http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	cfgSerial, err := queryU64(r, "cfg-serial")
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	since, err := queryU64(r, "since")
	if err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}

	serial, samples, res, err := api.Engine.FetchGraph(name, cfgSerial, since)
	if errors.Is(err, engine.ErrOutOfSync) {
		handleError(err, http.StatusConflict, rw)
		return
	}
	if err != nil {
		handleError(err, http.StatusNotFound, rw)
		return
	}

	resp := GraphApiResponse{Serial: serial, Samples: samples}
	switch res {
	case logic.GraphQNewSamples:
		resp.Result = "new-samples"
	case logic.GraphQNoNewSamples:
		resp.Result = "no-new-samples"
	default:
		handleError(errors.New("graph buffer was reset, refetch"), http.StatusConflict, rw)
		return
	}
	rw.Header().Add("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

func (api *RestApi) getGraphNames(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string][]string{"graphs": api.Engine.GraphNames()})
}

func (api *RestApi) resetElapsed(rw http.ResponseWriter, r *http.Request) {
	if err := api.Engine.ResetElapsed(mux.Vars(r)["name"]); err != nil {
		handleError(err, http.StatusNotFound, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

// WriteFieldApiRequest model
type WriteFieldApiRequest struct {
	Value string `json:"value"`
}

func (api *RestApi) writeField(rw http.ResponseWriter, r *http.Request) {
	var req WriteFieldApiRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	if err := api.Engine.WriteField(mux.Vars(r)["name"], req.Value); err != nil {
		handleError(err, http.StatusUnprocessableEntity, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

func (api *RestApi) driverCommand(rw http.ResponseWriter, r *http.Request) {
	var req WriteFieldApiRequest
	if err := decode(r.Body, &req); err != nil {
		handleError(err, http.StatusBadRequest, rw)
		return
	}
	vars := mux.Vars(r)
	src := vars["moniker"] + "." + vars["field"]
	if err := api.Engine.SendDriverCommand(src, req.Value); err != nil {
		handleError(err, http.StatusBadGateway, rw)
		return
	}
	rw.WriteHeader(http.StatusOK)
}

// HealthApiResponse model
type HealthApiResponse struct {
	CatalogueSerial uint64          `json:"catalogue-serial"`
	Fields          map[string]bool `json:"fields-in-error"`
}

func (api *RestApi) getHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(HealthApiResponse{
		CatalogueSerial: api.Engine.Serial(),
		Fields:          api.Engine.FieldNames(),
	})
}

func queryU64(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s parameter: %w", key, err)
	}
	return v, nil
}
