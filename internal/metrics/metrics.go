// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the database counters over a Prometheus
// endpoint, for users who run the app on a shared machine and want to
// watch checkpoint and cleanup behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/sekolahdesk/sekolahdesk/internal/database"
)

type Manager struct {
	registry *prometheus.Registry
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(database.NewMetricsCollector())

	log.Info().Msg("metrics manager initialized")

	return &Manager{registry: registry}
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}
