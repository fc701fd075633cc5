// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-logicd.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-logicd/internal/config"
	"github.com/ClusterCockpit/cc-logicd/internal/engine"
	"github.com/ClusterCockpit/cc-logicd/internal/msgbus"
	"github.com/ClusterCockpit/cc-logicd/internal/repository"
	"github.com/ClusterCockpit/cc-logicd/internal/varprovider"
	"github.com/ClusterCockpit/cc-logicd/pkg/logic"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("Version:\t%s\n", version)
		fmt.Printf("Git hash:\t%s\n", commit)
		fmt.Printf("Build time:\t%s\n", date)
		fmt.Printf("Go Version:\t%s\n", runtime.Version())
		os.Exit(0)
	}

	// Apply config flags for ccLogger
	cclog.Init(flagLogLevel, flagLogDateTime)

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Abortf("Loading .env file failed.\nError: %s\n", err.Error())
	}

	config.Init(flagConfigFile)

	if err := os.MkdirAll(filepath.Dir(config.Keys.DB), 0o755); err != nil {
		cclog.Abortf("Creating database directory failed.\nError: %s\n", err.Error())
	}
	repository.Connect(config.Keys.DB)
	if flagInitDB {
		cclog.Info("Database initialized")
		os.Exit(0)
	}

	// The built-in variable driver plays the provider role; real driver
	// runtimes feed it over the message bus.
	provider := varprovider.New()
	for _, v := range config.Keys.Variables {
		if err := provider.Seed(v.Moniker, v.Field, v.Type, v.Value); err != nil {
			cclog.Abortf("Seeding variable %s.%s failed.\nError: %s\n", v.Moniker, v.Field, err.Error())
		}
	}

	// Restore the catalogue from the last checkpoint.
	store := repository.GetConfigStore()
	cfg := &logic.Config{}
	if blob, serial, err := store.Load(); err == nil {
		restored, rerr := engine.LoadBlob(blob)
		if rerr != nil {
			cclog.Abortf("Restoring catalogue (serial %d) failed.\nError: %s\n", serial, rerr.Error())
		}
		restored.SetSerial(serial)
		cfg = restored
		cclog.Infof("Restored catalogue with %d fields (serial %d)", cfg.FieldCount(), serial)
	} else if err != repository.ErrNoConfig {
		cclog.Abortf("Loading catalogue failed.\nError: %s\n", err.Error())
	}

	eng, err := engine.New(provider, cfg)
	if err != nil {
		cclog.Abortf("Engine init failed.\nError: %s\n", err.Error())
	}
	eng.SetMutationHook(store.SaveAsync)
	eng.SetPublishHook(msgbus.PublishDeltas)

	msgbus.Init(config.Keys.Nats)
	msgbus.Connect()
	if bus := msgbus.GetClient(); bus != nil {
		if err := bus.Subscribe(msgbus.Keys.IngestSubject, func(_ string, data []byte) {
			provider.IngestLines(data)
		}); err != nil {
			cclog.Warnf("Subscribing to %s failed: %s", msgbus.Keys.IngestSubject, err.Error())
		}
	}

	tick, err := time.ParseDuration(config.Keys.TickInterval)
	if err != nil || tick < 100*time.Millisecond {
		cclog.Abortf("Bad tick-interval %q\n", config.Keys.TickInterval)
	}
	checkpoint, err := time.ParseDuration(config.Keys.CheckpointInterval)
	if err != nil || checkpoint < time.Minute {
		cclog.Abortf("Bad checkpoint-interval %q\n", config.Keys.CheckpointInterval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("Could not create gocron scheduler.\nError: %s\n", err.Error())
	}
	if _, err := s.NewJob(gocron.DurationJob(tick), gocron.NewTask(func() {
		eng.Tick(time.Now())
	})); err != nil {
		cclog.Abortf("Could not schedule evaluation tick.\nError: %s\n", err.Error())
	}
	if _, err := s.NewJob(gocron.DurationJob(checkpoint), gocron.NewTask(func() {
		blob, serial, err := eng.FetchConfig()
		if err != nil {
			cclog.Errorf("Periodic checkpoint failed: %s", err.Error())
			return
		}
		store.SaveAsync(blob, serial)
	})); err != nil {
		cclog.Abortf("Could not schedule catalogue checkpoint.\nError: %s\n", err.Error())
	}
	s.Start()

	var wg sync.WaitGroup
	serverInit(eng, &wg)

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		serverShutdown()
		if err := s.Shutdown(); err != nil {
			cclog.Warnf("Scheduler shutdown: %s", err.Error())
		}
		msgbus.GetClient().Close()
	}()

	wg.Wait()
	cclog.Info("Graceful shutdown completed!")
}
