// Copyright (c) 2025, the sekolahdesk contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	wedgedTransactionTotal atomic.Uint64
	checkpointTotal        atomic.Uint64
	vacuumTotal            atomic.Uint64
	orphanRowsDeletedTotal atomic.Uint64
)

func recordWedgedTransaction() {
	wedgedTransactionTotal.Add(1)
}

func recordCheckpoint() {
	checkpointTotal.Add(1)
}

func recordVacuum() {
	vacuumTotal.Add(1)
}

func recordOrphanRowsDeleted(n uint64) {
	orphanRowsDeletedTotal.Add(n)
}

// MetricsCollector exposes database health counters to Prometheus.
type MetricsCollector struct {
	wedgedTransactionDesc *prometheus.Desc
	checkpointDesc        *prometheus.Desc
	vacuumDesc            *prometheus.Desc
	orphanRowsDesc        *prometheus.Desc
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		wedgedTransactionDesc: prometheus.NewDesc(
			"sekolahdesk_db_wedged_transaction_total",
			"Number of times BeginTx detected a wedged transaction (indicates a bug)",
			nil,
			nil,
		),
		checkpointDesc: prometheus.NewDesc(
			"sekolahdesk_db_checkpoint_total",
			"Number of WAL truncate checkpoints performed",
			nil,
			nil,
		),
		vacuumDesc: prometheus.NewDesc(
			"sekolahdesk_db_vacuum_total",
			"Number of VACUUM runs performed",
			nil,
			nil,
		),
		orphanRowsDesc: prometheus.NewDesc(
			"sekolahdesk_db_orphan_rows_deleted_total",
			"Number of orphaned reference rows removed by cleanup passes",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.wedgedTransactionDesc
	ch <- c.checkpointDesc
	ch <- c.vacuumDesc
	ch <- c.orphanRowsDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.wedgedTransactionDesc, prometheus.CounterValue, float64(wedgedTransactionTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.checkpointDesc, prometheus.CounterValue, float64(checkpointTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.vacuumDesc, prometheus.CounterValue, float64(vacuumTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.orphanRowsDesc, prometheus.CounterValue, float64(orphanRowsDeletedTotal.Load()))
}
