// Copyright (C) The Brokermesh Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// broker-executor is the node agent: it supervises one managed server
// process and speaks the driver event protocol on stdin/stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"git.brokermesh.org/brokermesh.git/lib/executor"
	"git.brokermesh.org/brokermesh.git/lib/procserver"
	"git.brokermesh.org/brokermesh.git/sdk/go/config"
	"git.brokermesh.org/brokermesh.git/sdk/go/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

// Config is the broker-executor config file schema.
type Config struct {
	// Command and arguments that start the managed server; the
	// properties file path is appended as the last argument.
	Command string
	Args    []string
	// Working directory for the server process.
	Dir string
	// Address for the prometheus metrics listener; disabled if
	// empty.
	MetricsListen string
}

func main() {
	os.Exit(runCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func runCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet(prog, flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", "/etc/brokermesh/executor.yml", "configuration file path")
	logLevel := flags.String("log-level", "info", "logging level (debug, info, ...)")
	logFormat := flags.String("log-format", "text", "logging format (text or json)")
	metricsListen := flags.String("metrics-listen", "", "prometheus metrics listener address (overrides config)")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, prog, version)
		return 0
	}

	logger := ctxlog.New(stderr, *logFormat, *logLevel)

	var cfg Config
	if err := config.LoadFile(&cfg, *configFile); err != nil {
		logger.WithError(err).Error("error loading config")
		return 1
	}
	if cfg.Command == "" {
		logger.WithField("Config", *configFile).Error("config has no server command")
		return 1
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}

	reg := prometheus.NewRegistry()
	if cfg.MetricsListen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}
			logger.WithField("Listen", cfg.MetricsListen).Info("metrics listener starting")
			if err := srv.ListenAndServe(); err != nil {
				logger.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	server := &procserver.Server{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Dir,
		Logger:  logger.WithField("Component", "procserver"),
	}
	handler := executor.New(logger.WithField("Component", "executor"), server, reg)
	driver := &executor.PipeDriver{
		In:      stdin,
		Out:     stdout,
		Handler: handler,
		Logger:  logger.WithField("Component", "driver"),
	}

	logger.WithField("Version", version).Info("broker-executor starting")
	if err := driver.Run(context.Background()); err != nil {
		logger.WithError(err).Error("driver terminated")
		return 1
	}
	return 0
}
