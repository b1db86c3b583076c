package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/socialgrid/internal/engine"
)

// Label values are bounded: no per-agent or per-session labels.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "socialgrid_tick_duration_seconds",
		Help:    "Time spent running one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	stepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socialgrid_steps_total",
		Help: "Ticks run across all episodes.",
	})

	episodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgrid_episodes_total",
		Help: "Episodes by outcome.",
	}, []string{"outcome"}) // "started", "finished", "discarded"

	groupsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialgrid_groups",
		Help: "Groups in the most recently stepped game.",
	})

	bargainingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialgrid_bargaining_agents",
		Help: "Agents in an open bargaining session in the most recently stepped game.",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socialgrid_sessions_active",
		Help: "Open API sessions.",
	})

	rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialgrid_requests_rejected_total",
		Help: "Requests rejected before reaching a session.",
	}, []string{"reason"}) // "rate_limit", "schema", "contract", "origin", "capacity"
)

// ObserveStep records one finished tick of g.
func ObserveStep(g *engine.Game, elapsed time.Duration) {
	tickDuration.Observe(elapsed.Seconds())
	stepsTotal.Inc()
	groupsGauge.Set(float64(len(g.Social.Groups())))
	n := 0
	for _, a := range g.Agents {
		if g.Social.IsBargaining(a.ID) {
			n++
		}
	}
	bargainingGauge.Set(float64(n))
}

// Instrument adds metrics hooks to a runner.
func Instrument(r *engine.Runner) {
	prevReset, prevStep, prevEpisode := r.OnReset, r.OnStep, r.OnEpisode
	r.OnReset = func(env *engine.Environment, infos map[string]engine.Info) {
		episodesTotal.WithLabelValues("started").Inc()
		if prevReset != nil {
			prevReset(env, infos)
		}
	}
	r.OnStep = func(env *engine.Environment, res *engine.StepResult, elapsed time.Duration) {
		ObserveStep(env.Game(), elapsed)
		if prevStep != nil {
			prevStep(env, res, elapsed)
		}
	}
	r.OnEpisode = func(sum engine.EpisodeSummary) {
		episodesTotal.WithLabelValues("finished").Inc()
		if prevEpisode != nil {
			prevEpisode(sum)
		}
	}
}

// MetricsHandler serves the Prometheus exposition format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
