/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package metrics exposes build orchestration metrics to Prometheus. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "monobuild"

// Recorder holds the registered collectors.
type Recorder struct {
	reg *prom.Registry

	batches         prom.Counter
	batchDuration   prom.Histogram
	packageDuration *prom.HistogramVec
	results         *prom.CounterVec
	restarts        *prom.CounterVec
	publishAttempts *prom.CounterVec
	publishRetries  *prom.CounterVec
	busy            prom.Gauge
}

// New registers metrics on reg, or on a fresh registry when reg is nil.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		reg: reg,
		batches: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Completed build batches",
		}),
		batchDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from the first change of a batch to its report",
			Buckets:   prom.DefBuckets,
		}),
		packageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "package_build_duration_seconds",
			Help:      "Duration of one package build call",
			Buckets:   prom.DefBuckets,
		}, []string{"package", "command"}),
		results: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "results_total",
			Help:      "Build results reported, by severity",
		}, []string{"severity"}),
		restarts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "server_restarts_total",
			Help:      "Dev server restarts",
		}, []string{"server"}),
		publishAttempts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Package publish attempts by outcome",
		}, []string{"package", "outcome"}),
		publishRetries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "publish_retries_total",
			Help:      "Package publish retries",
		}, []string{"package"}),
		busy: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_builds",
			Help:      "Outstanding builds in the current batch",
		}),
	}
	reg.MustRegister(r.batches, r.batchDuration, r.packageDuration, r.results, r.restarts, r.publishAttempts, r.publishRetries, r.busy)
	return r
}

// Registry returns the registry the recorder writes to.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) ObserveBatch(d time.Duration, counts map[string]int) {
	if r == nil {
		return
	}
	r.batches.Inc()
	r.batchDuration.Observe(d.Seconds())
	for severity, n := range counts {
		r.results.WithLabelValues(severity).Add(float64(n))
	}
}

func (r *Recorder) ObservePackageBuild(pkg, command string, d time.Duration) {
	if r == nil {
		return
	}
	r.packageDuration.WithLabelValues(pkg, command).Observe(d.Seconds())
}

func (r *Recorder) SetBusy(n int) {
	if r == nil {
		return
	}
	r.busy.Set(float64(n))
}

func (r *Recorder) IncRestart(server string) {
	if r == nil {
		return
	}
	r.restarts.WithLabelValues(server).Inc()
}

func (r *Recorder) IncPublishAttempt(pkg string, success bool) {
	if r == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "success"
	}
	r.publishAttempts.WithLabelValues(pkg, outcome).Inc()
}

func (r *Recorder) IncPublishRetry(pkg string) {
	if r == nil {
		return
	}
	r.publishRetries.WithLabelValues(pkg).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is done. Runtime collectors are
// added to the registry first.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	r.reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
