package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vhub_calls_active",
		Help: "1 while a call is active, 0 otherwise",
	})

	CallsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_calls_confirmed_total",
		Help: "Confirmed calls by admission outcome",
	}, []string{"outcome"})

	CallsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_calls_rejected_total",
		Help: "Incoming calls rejected by the line, by reason",
	}, []string{"reason"})

	Callbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhub_callbacks_total",
		Help: "Deferred call-backs placed after a rejected call",
	})

	BargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhub_barge_ins_total",
		Help: "User speech that cut off system output",
	})

	Hangups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_hangups_total",
		Help: "Hangups requested by the hub, by kind",
	}, []string{"kind"})

	FlushCascades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhub_flush_cascades_total",
		Help: "Disconnect flush cascades run to completion",
	})

	DialogueTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vhub_dialogue_turns_total",
		Help: "Dialogue acts generated by the dialogue manager",
	})

	CommandsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_commands_received_total",
		Help: "Notifications received from stages",
	}, []string{"stage", "command"})

	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_commands_sent_total",
		Help: "Commands sent to stages",
	}, []string{"stage", "command"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vhub_events_dropped_total",
		Help: "Notifications logged and ignored, by reason",
	}, []string{"reason"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vhub_tick_duration_seconds",
		Help:    "Time spent handling one hub loop tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})
)
