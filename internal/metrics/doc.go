// Package metrics records lifecycle metrics for mlt.
//
// Components receive a Recorder and default to NoopRecorder, so recording
// never needs nil checks. When the CLI runs with --metrics-file, a
// PrometheusRecorder backed by a private registry is injected instead and
// its registry is written in the node-exporter textfile format once the
// command finishes:
//
//	reg := prometheus.NewRegistry()
//	rec := metrics.NewPrometheusRecorder(reg)
//	// ... run the command with rec ...
//	_ = metrics.WriteTextfile(reg, path)
package metrics
