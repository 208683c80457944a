// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package consolidator wires every component — project cache, job
// registry, transcoder adapter, event logger, HTTP API — into one
// runnable server. cmd/consolidate calls it only for its serve
// subcommand; the one-shot CLI commands use the pkg packages directly.
package consolidator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"consolidator/pkg/api"
	"consolidator/pkg/config"
	"consolidator/pkg/job"
	"consolidator/pkg/joblog"
	"consolidator/pkg/transcode"
)

// App is every long-lived collaborator the server needs, assembled once
// at startup.
type App struct {
	Env        *config.Env
	Logger     *joblog.Logger
	Transcoder *transcode.Transcoder
	Service    *api.Service

	server *http.Server
	wg     sync.WaitGroup
}

// New assembles an App from envPath's configuration. Transcoder
// resolution failure is non-fatal: check_transcoder/media_metadata
// report it unavailable rather than refusing to start the server, since
// most of the command surface (project inspection, analysis, planning)
// doesn't need it.
func New(envPath string) (*App, error) {
	env, err := config.Load(envPath)
	if err != nil {
		return nil, fmt.Errorf("consolidator: load config: %w", err)
	}
	if err := env.PrepareEnvironment(); err != nil {
		return nil, fmt.Errorf("consolidator: prepare environment: %w", err)
	}

	logger := joblog.New(&sync.WaitGroup{})

	transcoder, err := transcode.New(env.FFmpegBin, env.FFprobeBin)
	if err != nil {
		transcoder = nil
	}

	service := &api.Service{
		Projects:         api.NewProjectCache(),
		Registry:         job.NewRegistry(),
		Transcoder:       transcoder,
		Logger:           logger,
		AuthUsername:     env.AuthUsername,
		AuthPasswordHash: env.AuthPasswordHash,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/project_info", service.ProjectInfo())
	mux.Handle("/api/sequences", service.Sequences())
	mux.Handle("/api/media_items", service.MediaItems())
	mux.Handle("/api/analyze", service.AnalyzeMediaUsage())
	mux.Handle("/api/unused", service.UnusedMedia())
	mux.Handle("/api/consolidate", service.StartConsolidation())
	mux.Handle("/api/cancel", service.CancelConsolidation())
	mux.Handle("/api/progress", service.ConsolidationProgress())
	mux.Handle("/api/progress/stream", service.ProgressStream())
	mux.Handle("/api/check_transcoder", service.CheckTranscoder())
	mux.Handle("/api/media_metadata", service.MediaMetadata())
	mux.Handle("/api/estimate", service.EstimateOutputSize())
	mux.Handle("/api/validate_path", service.ValidateOutputPath())

	return &App{
		Env:        env,
		Logger:     logger,
		Transcoder: transcoder,
		Service:    service,
		server:     &http.Server{Addr: env.Addr, Handler: mux},
	}, nil
}

// Run starts the job logger and HTTP server, blocking until ctx is
// cancelled or SIGINT/SIGTERM is received, then shuts down cleanly.
func (a *App) Run(ctx context.Context) error {
	logCtx, cancelLog := context.WithCancel(ctx)
	defer cancelLog()
	if err := a.Logger.Open(logCtx, a.Env.EventsDBPath()); err != nil {
		return fmt.Errorf("consolidator: open job log: %w", err)
	}

	fatal := make(chan error, 1)
	go func() { fatal <- a.server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-fatal:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// Run loads envPath's configuration and serves until interrupted. The
// CLI's `serve` subcommand calls this directly, mirroring the teacher's
// top-level Run entry point.
func Run(envPath string) error {
	app, err := New(envPath)
	if err != nil {
		return err
	}
	return app.Run(context.Background())
}
