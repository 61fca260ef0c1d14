// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sekolahdesk/sekolahdesk/internal/buildinfo"
	"github.com/sekolahdesk/sekolahdesk/internal/cache"
	"github.com/sekolahdesk/sekolahdesk/internal/config"
	"github.com/sekolahdesk/sekolahdesk/internal/database"
	"github.com/sekolahdesk/sekolahdesk/internal/events"
	"github.com/sekolahdesk/sekolahdesk/internal/metrics"
	"github.com/sekolahdesk/sekolahdesk/internal/models"
	"github.com/sekolahdesk/sekolahdesk/internal/projection"
	"github.com/sekolahdesk/sekolahdesk/internal/undo"
)

// RunServeCommand hosts the data layer: database, caches, projections and
// the undo coordinator, until interrupted.
func RunServeCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the records backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configDir)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory")
	return cmd
}

func serve(parent context.Context, configDir string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info().Str("version", buildinfo.Version).Msg("starting sekolahdesk")

	bus := events.NewBus(0)
	defer bus.Close()

	db, err := database.New(cfg.DatabasePath(), database.Options{
		PoolSize: cfg.Config.PoolSize,
		SkipSeed: !cfg.Config.SeedSampleData,
		Cleanup: database.CleanupFlags{
			Subjects: cfg.Config.CleanupSubjects,
			Roles:    cfg.Config.CleanupRoles,
			Classes:  cfg.Config.CleanupClasses,
		},
		MaintenanceInterval: time.Duration(cfg.Config.MaintenanceIntervalHours) * time.Hour,
		Bus:                 bus,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Caches.
	budget := int64(cfg.Config.ImageCacheMB) << 20
	if budget <= 0 {
		budget = cache.DefaultImageBudget
	}
	photos, err := cache.NewImageCache(budget)
	if err != nil {
		return fmt.Errorf("image cache: %w", err)
	}
	defer photos.Close()

	ids := cache.NewIDCache(db)
	if err := ids.Load(ctx); err != nil {
		return fmt.Errorf("load id cache: %w", err)
	}

	interner := cache.NewInterner()
	stopInvalidate := cache.InvalidateOnSwap(bus, photos, ids, interner)
	defer stopInvalidate()

	// Watch the database file; cloud-synced folders can yank it away.
	monitor, err := database.NewFileMonitor(cfg.DatabasePath(), bus)
	if err != nil {
		return fmt.Errorf("file monitor: %w", err)
	}
	defer monitor.Close()

	// Stores and projections.
	students := models.NewStudentStore(db, interner, photos)
	enrollments := models.NewEnrollmentStore(db)
	grades := models.NewGradeStore(db)

	flat := projection.NewFlatStudents(db, interner)
	grouped := projection.NewGroupedStudents(db, interner)
	history := projection.NewHistory(db)

	loadCtx, cancelLoad := context.WithTimeout(ctx, 30*time.Second)
	defer cancelLoad()
	g, loadCtx := errgroup.WithContext(loadCtx)
	g.Go(func() error { return flat.Load(loadCtx) })
	g.Go(func() error { return grouped.Load(loadCtx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load projections: %w", err)
	}

	coordinator := undo.NewCoordinator(undo.CoordinatorOptions{
		Manager:     undo.NewManager(undo.DefaultHistoryLimit),
		Students:    students,
		Enrollments: enrollments,
		Grades:      grades,
		Querier:     db,
		Flat:        flat,
		Grouped:     grouped,
		History:     history,
		Bus:         bus,
	})
	defer coordinator.Close()
	_ = coordinator // handed to the UI layer

	if cfg.Config.MetricsEnabled {
		server := metrics.NewServer(metrics.NewManager(), cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	log.Info().Int64("students", int64(flat.Len())).Msg("ready")

	// The headless host cannot ask the user; losing the backing file ends
	// the process. A GUI embedding offers reload instead.
	changes, cancelSub := bus.Subscribe()
	defer cancelSub()
	for {
		select {
		case ev := <-changes:
			if ev.Kind == events.FileMissing {
				return fmt.Errorf("database file disappeared: %s", cfg.DatabasePath())
			}
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil
		}
	}
}
