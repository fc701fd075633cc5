// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/internal/api"
	"github.com/ClusterCockpit/cc-logicd/internal/config"
	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var server *http.Server

func serverInit(eng *engine.Engine, wg *sync.WaitGroup) {
	r := mux.NewRouter()

	restapi := &api.RestApi{
		Engine:    eng,
		APISecret: config.Keys.APISecret,
	}
	restapi.MountRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	handler := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		if strings.HasPrefix(params.Request.RequestURI, "/api/") {
			cclog.Debugf("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		}
	})

	server = &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		cclog.Abortf("Starting http listener on '%s' failed.\nError: %s\n", config.Keys.Addr, err.Error())
	}

	if config.Keys.HttpsCertFile != "" && config.Keys.HttpsKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(config.Keys.HttpsCertFile, config.Keys.HttpsKeyFile)
		if err != nil {
			cclog.Abortf("Loading X509 keypair failed.\nError: %s\n", err.Error())
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
			MinVersion: tls.VersionTLS12,
		})
		cclog.Printf("HTTPS server listening at %s...", config.Keys.Addr)
	} else {
		cclog.Printf("HTTP server listening at %s...", config.Keys.Addr)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			cclog.Fatalf("Server serve failed: %s", err.Error())
		}
	}()
}

func serverShutdown() {
	// Gracefully, waiting for ongoing requests.
	server.Shutdown(context.Background())
}
