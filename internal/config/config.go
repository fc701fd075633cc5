// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the program configuration. The
// virtual-field catalogue itself is not part of this file: it lives in
// the repository and is edited over the API.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// VariableConfig seeds one field of the built-in variable driver.
type VariableConfig struct {
	Moniker string `json:"moniker"`
	Field   string `json:"field"`
	Type    string `json:"type"`
	Value   string `json:"value"`
}

// ProgramConfig is the format of config.json. See configs/config.json
// for an example.
type ProgramConfig struct {
	// Address for the http (or https) server, for example "localhost:8080".
	Addr string `json:"addr"`

	// Evaluation tick cadence, a Go duration string.
	TickInterval string `json:"tick-interval"`

	// Path of the sqlite database holding the catalogue blob.
	DB string `json:"db"`

	// If both are set, serve HTTPS with these certificates.
	HttpsCertFile string `json:"https-cert-file"`
	HttpsKeyFile  string `json:"https-key-file"`

	// HMAC secret for bearer tokens on mutating API routes. Empty
	// disables the check (authentication delegated to the host).
	APISecret string `json:"api-secret"`

	// Raw NATS section, decoded by the msgbus package.
	Nats json.RawMessage `json:"nats"`

	// Seeded fields of the built-in variable driver.
	Variables []VariableConfig `json:"variables"`

	// How often the catalogue blob is re-checkpointed even without
	// mutations, a Go duration string.
	CheckpointInterval string `json:"checkpoint-interval"`
}

// Keys holds the active configuration, populated by Init.
var Keys ProgramConfig = ProgramConfig{
	Addr:               ":8080",
	TickInterval:       "500ms",
	DB:                 "./var/logicd.db",
	CheckpointInterval: "1h",
}

// Init loads the config file if present; a missing file runs on
// defaults. Validation failures abort startup.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Abortf("config: cannot read config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
		}
		return
	}

	Validate(configSchema, raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Abortf("config: cannot decode config file '%s'.\nError: %s\n", flagConfigFile, err.Error())
	}
}
