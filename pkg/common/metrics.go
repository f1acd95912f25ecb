package common

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunMetricsServer serves the default prometheus registry on addr.
func RunMetricsServer(addr string) error {
	return RunMetricsServerFor(addr, prometheus.DefaultGatherer)
}

// RunMetricsServerFor serves the given gatherer on addr.
func RunMetricsServerFor(addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
