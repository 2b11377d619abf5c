/*
AcePanel Core
Copyright (c) 2026 The AcePanel Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of AcePanel Core.

AcePanel Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AcePanel Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/acepanel/acepanel-core/pkg/api"
	"github.com/acepanel/acepanel-core/pkg/config"
	"github.com/acepanel/acepanel-core/pkg/device/session"
	"github.com/acepanel/acepanel-core/pkg/display/compose"
	"github.com/acepanel/acepanel-core/pkg/display/store"
	"github.com/acepanel/acepanel-core/pkg/helpers"
	"github.com/acepanel/acepanel-core/pkg/service"
	"github.com/acepanel/acepanel-core/pkg/service/broker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config", helpers.ConfigDir(), "config directory")
	serialPort := flag.String("serial", "", "serial port override for the lighting controller")
	apiPort := flag.Int("api", 0, "API port override")
	debug := flag.Bool("debug", false, "enable debug logging")
	daemonMode := flag.Bool("daemon", false, "log to stderr as well as the log file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("acepanel " + config.AppVersion)
		return nil
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	}
	if err := helpers.InitLogging(filepath.Join(helpers.DataDir(), "logs"), logWriters); err != nil {
		return err
	}

	cfg, err := config.NewConfig(*configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *debug || cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if *serialPort != "" {
		cfg.SetSerialPort(*serialPort)
	}
	if *apiPort > 0 {
		cfg.SetAPIPort(*apiPort)
	}

	log.Info().Str("version", config.AppVersion).Msg("starting acepanel")

	st := store.NewStore(filepath.Join(*configDir, config.TextConfigFile))
	st.Load()

	vid, pid := cfg.USBIDs()
	sess := session.New(session.Config{
		SerialPath:   cfg.SerialPort(),
		USBVendorID:  vid,
		USBProductID: pid,
	})
	defer sess.Close()

	svc, notifs := service.New(st, compose.NewCompositor(cfg.IconFont()), sess)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := broker.NewBroker(ctx, notifs)
	b.Start()
	events, _ := b.Subscribe(64)

	svc.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Start(ctx, cfg, svc, events)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("shutting down")
	svc.Stop()
	return nil
}
