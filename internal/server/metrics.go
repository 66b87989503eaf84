package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts inbound messages by type and outcome.
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_messages_total",
		Help: "Inbound messages by type and result (applied, noop, rejected, invalid)",
	}, []string{"type", "result"})

	// pushesTotal counts push events fanned out to clients.
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvas_pushes_total",
		Help: "Push events broadcast to clients by type",
	}, []string{"type"})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_connected_clients",
		Help: "Currently connected websocket clients",
	})

	droppedClientsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvas_dropped_clients_total",
		Help: "Clients disconnected because their send buffer was full",
	})

	treeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvas_tree_nodes",
		Help: "Live nodes in the canonical tree",
	})
)
