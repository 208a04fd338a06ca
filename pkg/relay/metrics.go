// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package relay

import (
	"net/http"

	"github.com/Thermoquad/sabrelay/pkg/sabertooth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a Prometheus registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler returns the /metrics HTTP handler for reg
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics exports receiver activity. It implements Observer.
type Metrics struct {
	Frames         *prometheus.CounterVec // labels: result=dispatched|rejected|failed
	Commands       *prometheus.CounterVec // labels: command
	LastValue      *prometheus.GaugeVec   // labels: command
	LastFrameTime  prometheus.Gauge
	EmergencyStops prometheus.Counter
}

// NewMetrics registers and returns the relay metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sabrelay",
			Name:      "frames_total",
			Help:      "Frames read from the host link by result.",
		}, []string{"result"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sabrelay",
			Name:      "commands_total",
			Help:      "Valid commands dispatched to the motor controller.",
		}, []string{"command"}),
		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sabrelay",
			Name:      "command_value",
			Help:      "Last value dispatched per command.",
		}, []string{"command"}),
		LastFrameTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sabrelay",
			Name:      "last_frame_timestamp_seconds",
			Help:      "Unix time of the last frame read.",
		}),
		EmergencyStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sabrelay",
			Name:      "emergency_stops_total",
			Help:      "Emergency stops issued by the relay.",
		}),
	}
	reg.MustRegister(m.Frames, m.Commands, m.LastValue, m.LastFrameTime, m.EmergencyStops)
	return m
}

// Observe implements Observer
func (m *Metrics) Observe(res Result) {
	if !res.Time.IsZero() {
		m.LastFrameTime.Set(float64(res.Time.UnixNano()) / 1e9)
	}

	switch res.Outcome {
	case OutcomeRejected:
		m.Frames.WithLabelValues("rejected").Inc()
	case OutcomeDispatched:
		if res.Err != nil {
			m.Frames.WithLabelValues("failed").Inc()
			return
		}
		name := sabertooth.FormatCommand(res.Frame.Command)
		m.Frames.WithLabelValues("dispatched").Inc()
		m.Commands.WithLabelValues(name).Inc()
		m.LastValue.WithLabelValues(name).Set(float64(res.Frame.Value))
	}
}

// StatisticsObserver feeds receiver results into frame statistics
func StatisticsObserver(stats *sabertooth.Statistics) Observer {
	return ObserverFunc(func(res Result) {
		switch res.Outcome {
		case OutcomeRejected:
			stats.Update(nil, res.Err, nil)
		case OutcomeDispatched:
			frame := res.Frame
			stats.Update(&frame, nil, sabertooth.ValidateFrame(frame))
			if res.Err != nil {
				stats.RecordDispatchError()
			}
		}
	})
}
