// Package metrics exports the result of a backup run in the Prometheus
// text format, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunSummary is what one run reports
type RunSummary struct {
	Succeeded    bool
	Tasks        map[string]int
	HostFailures int
	Bytes        int64
	Duration     time.Duration
	Backend      string
	UploadOK     bool
	FinishedAt   time.Time
}

// Recorder holds the run gauges in a private registry
type Recorder struct {
	registry *prometheus.Registry

	lastRunTimestamp prometheus.Gauge
	lastRunSuccess   prometheus.Gauge
	runDuration      prometheus.Gauge
	tasks            *prometheus.GaugeVec
	hostFailures     prometheus.Gauge
	artifactBytes    prometheus.Gauge
	uploadSuccess    *prometheus.GaugeVec
}

// NewRecorder creates a recorder with all metrics registered
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysql_backup_last_run_timestamp_seconds",
			Help: "Unix time the last backup run finished.",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysql_backup_last_run_success",
			Help: "1 if the last backup run succeeded, 0 otherwise.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysql_backup_last_run_duration_seconds",
			Help: "Wall time of the last backup run.",
		}),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mysql_backup_tasks",
			Help: "Backup tasks of the last run by outcome.",
		}, []string{"status"}),
		hostFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysql_backup_host_failures",
			Help: "Hosts that could not be reached or listed in the last run.",
		}),
		artifactBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mysql_backup_artifact_bytes",
			Help: "Compressed bytes produced by the last run.",
		}),
		uploadSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mysql_backup_upload_success",
			Help: "1 if the last upload to the backend succeeded, 0 otherwise.",
		}, []string{"backend"}),
	}

	registry.MustRegister(
		r.lastRunTimestamp,
		r.lastRunSuccess,
		r.runDuration,
		r.tasks,
		r.hostFailures,
		r.artifactBytes,
		r.uploadSuccess,
	)

	return r
}

// Observe sets every gauge from the summary
func (r *Recorder) Observe(s RunSummary) {
	finished := s.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	r.lastRunTimestamp.Set(float64(finished.Unix()))
	r.lastRunSuccess.Set(boolToFloat(s.Succeeded))
	r.runDuration.Set(s.Duration.Seconds())
	for status, n := range s.Tasks {
		r.tasks.WithLabelValues(status).Set(float64(n))
	}
	r.hostFailures.Set(float64(s.HostFailures))
	r.artifactBytes.Set(float64(s.Bytes))
	if s.Backend != "" {
		r.uploadSuccess.WithLabelValues(s.Backend).Set(boolToFloat(s.UploadOK))
	}
}

// WriteTextfile atomically writes the registry to path
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
