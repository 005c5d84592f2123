// Package metrics exposes Prometheus counters for turns and synchronization.
package metrics

import (
	"net/http"

	"github.com/jwebster45206/dungeon-ledger/pkg/propagate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements session.Recorder and propagate.Observer.
type Metrics struct {
	registry *prometheus.Registry

	turns      *prometheus.CounterVec
	extraction *prometheus.CounterVec
	syncSteps  *prometheus.CounterVec
	deaths     prometheus.Counter
	sessions   *prometheus.CounterVec
}

var _ propagate.Observer = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeon_turns_total",
			Help: "Player turns processed, by whether synchronization succeeded.",
		}, []string{"synced"}),
		extraction: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeon_delta_extractions_total",
			Help: "State summary extraction outcomes.",
		}, []string{"outcome"}),
		syncSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeon_sync_steps_total",
			Help: "Remote writes issued during synchronization, by step and result.",
		}, []string{"step", "result"}),
		deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dungeon_character_deaths_total",
			Help: "Characters killed during play.",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dungeon_sessions_total",
			Help: "Session lifecycle events.",
		}, []string{"event"}),
	}
	m.registry.MustRegister(m.turns, m.extraction, m.syncSteps, m.deaths, m.sessions)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnProcessed(synced bool) {
	label := "true"
	if !synced {
		label = "false"
	}
	m.turns.WithLabelValues(label).Inc()
}

func (m *Metrics) DeltaExtracted(outcome string) {
	m.extraction.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CharacterDied() {
	m.deaths.Inc()
}

func (m *Metrics) SessionStarted() {
	m.sessions.WithLabelValues("started").Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	m.sessions.WithLabelValues("ended_" + reason).Inc()
}

func (m *Metrics) StepCompleted(step propagate.Step, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.syncSteps.WithLabelValues(string(step), result).Inc()
}
