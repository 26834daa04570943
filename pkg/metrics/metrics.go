// Package metrics collects run counters and exports them in Prometheus text
// exposition format for the node_exporter textfile collector. gwdirector is
// a cron job, so there is no scrape endpoint; the textfile is the handover.
package metrics

import (
	"fmt"

	"github.com/google/renameio/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

var registry = prometheus.NewRegistry()

var (
	// APIRequests counts Directory API requests issued, by operation.
	APIRequests = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gwdirector_api_requests_total",
		Help: "Directory API requests issued.",
	}, []string{"op"})

	// APIRetries counts transient-failure retries, by operation.
	APIRetries = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Name: "gwdirector_api_retries_total",
		Help: "Directory API retries after transient failures.",
	}, []string{"op"})

	// UsersActive is the number of active users after the last sync.
	UsersActive = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_users_active",
		Help: "Active users in the identity cache after the last sync.",
	})

	// UsersUpserted counts user rows written during the last sync.
	UsersUpserted = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_users_upserted",
		Help: "User rows inserted or updated during the last sync.",
	})

	// UsersDeactivated counts tombstoned users during the last sync.
	UsersDeactivated = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_users_deactivated",
		Help: "Users deactivated during the last sync.",
	})

	// GroupsActive is the number of active directory groups after the last sync.
	GroupsActive = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_groups_active",
		Help: "Active directory groups in the identity cache after the last sync.",
	})

	// FilesWritten reports whether the last run rewrote the extrausers files.
	FilesWritten = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_files_written",
		Help: "1 when the last run rewrote the extrausers files, 0 when skipped.",
	})

	// LastRunTimestamp is the completion time of the last run.
	LastRunTimestamp = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_last_run_timestamp_seconds",
		Help: "Unix time of last completed run.",
	})

	// LastRunSuccess is 1 when the last run finished without a fatal error.
	LastRunSuccess = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "gwdirector_last_run_success",
		Help: "1 when the last run succeeded.",
	})
)

// WriteTextfile renders the registry to path atomically. Textfile collectors
// read on their own schedule, so a partially written file is never exposed.
// A no-op when path is empty.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}

	mfs, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("failed to create metrics temp file: %w", err)
	}
	defer t.Cleanup()

	enc := expfmt.NewEncoder(t, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
