package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remoting_sessions_active",
			Help: "Number of sessions registered in this process",
		},
	)

	SessionsReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoting_sessions_reaped_total",
			Help: "Total number of sessions removed by the reaper",
		},
	)

	// Bus metrics
	FramesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoting_frames_published_total",
			Help: "Total number of command frames published to the bus",
		},
		[]string{"result"},
	)

	FramesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoting_frames_routed_total",
			Help: "Total number of bus frames received, by outcome",
		},
		[]string{"outcome"},
	)

	// Device protocol metrics
	DeviceLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoting_device_logins_total",
			Help: "Total number of device login attempts",
		},
		[]string{"result"},
	)

	DevicePings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remoting_device_pings_total",
			Help: "Total number of device heartbeats",
		},
	)

	PingDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "remoting_ping_delay_ms",
			Help: "Running average of heartbeat delay in milliseconds",
		},
	)

	CommandReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remoting_command_replies_total",
			Help: "Total number of command replies, by how they reached the waiting sender",
		},
		[]string{"route"},
	)
)
