package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livepoll_votes_recorded_total",
		Help: "Votes stored.",
	})

	votesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepoll_votes_rejected_total",
		Help: "Votes that were not stored, by reason.",
	}, []string{"reason"})

	broadcastsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livepoll_broadcasts_total",
		Help: "Events broadcast to poll subscribers, by event type.",
	}, []string{"type"})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livepoll_connected_clients",
		Help: "Open WebSocket connections on this instance.",
	})
)
