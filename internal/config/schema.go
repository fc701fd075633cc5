// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

const configSchema = `{
  "$schema": "http://json-schema.org/draft/2020-12/schema",
  "title": "cc-logicd config file schema",
  "type": "object",
  "properties": {
    "addr": {
      "description": "Address where the http (or https) server will listen on",
      "type": "string"
    },
    "tick-interval": {
      "description": "Evaluation tick cadence as a Go duration string",
      "type": "string"
    },
    "db": {
      "description": "Path of the sqlite database file holding the catalogue",
      "type": "string"
    },
    "https-cert-file": {
      "description": "Filepath to SSL certificate",
      "type": "string"
    },
    "https-key-file": {
      "description": "Filepath to SSL key file",
      "type": "string"
    },
    "api-secret": {
      "description": "HMAC secret for bearer tokens on mutating API routes",
      "type": "string"
    },
    "nats": {
      "description": "Message bus connection",
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "ingest-subject": { "type": "string" },
        "publish-subject": { "type": "string" }
      },
      "required": ["address"]
    },
    "variables": {
      "description": "Seeded fields of the built-in variable driver",
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "moniker": { "type": "string" },
          "field": { "type": "string" },
          "type": {
            "type": "string",
            "enum": ["boolean", "card", "int", "float", "string", "stringlist", "time"]
          },
          "value": { "type": "string" }
        },
        "required": ["moniker", "field", "type"]
      }
    },
    "checkpoint-interval": {
      "description": "How often the catalogue is re-checkpointed, as a Go duration string",
      "type": "string"
    }
  }
}`
