// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Command sleekd runs the shared file index daemon. It scans the configured
// shares into a searchable index and answers browse, search and resolution
// queries over it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	_ "github.com/sleekd/sleekd/lib/automaxprocs"
	"github.com/sleekd/sleekd/lib/build"
	"github.com/sleekd/sleekd/lib/config"
	"github.com/sleekd/sleekd/lib/db"
	"github.com/sleekd/sleekd/lib/events"
	"github.com/sleekd/sleekd/lib/locations"
	"github.com/sleekd/sleekd/lib/logger"
	"github.com/sleekd/sleekd/lib/model"
	"github.com/sleekd/sleekd/lib/scanner"
	"github.com/sleekd/sleekd/lib/share"
	"github.com/sleekd/sleekd/lib/svcutil"
)

var l = logger.DefaultLogger.NewFacility("main", "Daemon startup and shutdown")

func main() {
	var (
		configFile  = flag.String("config", locations.Get(locations.ConfigFile), "Configuration file")
		dataDir     = flag.String("data", locations.GetBaseDir(locations.DataBaseDir), "Data directory (overridden by the databaseDir option)")
		rescan      = flag.Bool("rescan", false, "Force a full rescan at startup")
		metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address")
		verbose     = flag.Bool("verbose", false, "Narrate events at INFO level")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(build.LongVersion)
		return
	}

	l.Infoln(build.LongVersion)
	evLogger := events.NewLogger()

	if err := os.MkdirAll(filepath.Dir(*configFile), 0o700); err != nil {
		l.Warnln("Failed to create config directory:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}
	cfg, err := loadOrCreateConfig(*configFile, evLogger)
	if err != nil {
		l.Warnln("Failed to initialize configuration:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}

	opts := cfg.Options()
	dir := *dataDir
	if opts.DatabaseDir != "" {
		dir = opts.DatabaseDir
	}
	if err := locations.SetBaseDir(locations.DataBaseDir, dir); err != nil {
		l.Warnln("Failed to set data directory:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}
	dir = locations.GetBaseDir(locations.DataBaseDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Warnln("Failed to create data directory:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}

	primaryPath := locations.Get(locations.Database)
	backupPath := locations.Get(locations.BackupDatabase)

	var inst *db.Instance
	switch opts.StorageMode {
	case config.StorageModeMemory:
		inst, err = db.OpenMemory("sleekd")
	default:
		inst, err = db.Open(primaryPath)
	}
	if err != nil {
		l.Warnln("Failed to open share index:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}
	defer inst.Close()

	if err := inst.Create(false); err != nil {
		l.Warnln("Failed to prepare share index:", err)
		os.Exit(svcutil.ExitError.AsInt())
	}
	if opts.StorageMode == config.StorageModeMemory {
		// A lost in-memory index cannot be rebuilt without a restart, so
		// keep probing it.
		inst.EnableKeepalive(true)
	}

	sc := scanner.New(inst, share.NewFileFactory(nil), evLogger)
	svc := model.NewService(cfg, inst, backupPath, sc, evLogger)
	cfg.Subscribe(svc)
	defer cfg.Unsubscribe(svc)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		l.Infoln("Shutting down")
	}()

	main := suture.New("main", svcutil.SpecWithInfoLogger(l))
	main.Add(svc)
	if *verbose {
		main.Add(newVerboseService(evLogger))
	}
	errChan := main.ServeBackground(ctx)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	evLogger.Log(events.Starting, map[string]interface{}{
		"config": cfg.ConfigPath(),
		"data":   dir,
	})

	if err := svc.Initialize(*rescan); err != nil {
		l.Warnln("Failed to initialize shares:", err)
		cancel()
		<-errChan
		os.Exit(svcutil.ExitError.AsInt())
	}

	err = <-errChan
	status := svcutil.ExitSuccess
	if err != nil && !errors.Is(err, context.Canceled) {
		l.Warnln("Exiting:", err)
		status = svcutil.ExitError
	}
	if cfg.RequiresRestart() {
		status = svcutil.ExitRestart
	}
	os.Exit(status.AsInt())
}

func loadOrCreateConfig(path string, evLogger *events.Logger) (*config.Wrapper, error) {
	cfg, err := config.Load(path, evLogger)
	if os.IsNotExist(err) {
		cfg = config.Wrap(path, config.New(), evLogger)
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		l.Infof("Created default configuration in %s", path)
		return cfg, nil
	}
	return cfg, err
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	l.Infof("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		l.Warnln("Metrics endpoint:", err)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
	flag.PrintDefaults()

	fmt.Fprintf(out, "\nDebugging facilities for the SLKTRACE environment variable:\n")
	facilities := logger.DefaultLogger.Facilities()
	names := make([]string, 0, len(facilities))
	for name := range facilities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-14s %s\n", name, facilities[name])
	}
}
