package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SessionLoginsTotal counts Kards session POSTs by result.
	SessionLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kards_session_logins_total",
			Help: "Total number of Kards session login attempts",
		},
		[]string{"result"},
	)

	// SessionActive is 1 while a live session is held.
	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kards_session_active",
			Help: "Whether a live Kards session is currently held",
		},
	)

	// HeartbeatsTotal counts heartbeat PUTs by result.
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kards_heartbeats_total",
			Help: "Total number of session heartbeats",
		},
		[]string{"result"},
	)

	// AccountRotationsTotal counts rotations to another pool account after a
	// credential rejection.
	AccountRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kards_account_rotations_total",
			Help: "Total number of account rotations after auth failures",
		},
	)

	// AccountBansTotal counts accounts marked banned by the broker.
	AccountBansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kards_account_bans_total",
			Help: "Total number of accounts marked banned",
		},
	)

	// SteamLoginsTotal counts Steam login attempts by result.
	SteamLoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kards_steam_logins_total",
			Help: "Total number of Steam login attempts",
		},
		[]string{"result"},
	)
)

// Register registers all broker metrics on the given registry.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		SessionLoginsTotal,
		SessionActive,
		HeartbeatsTotal,
		AccountRotationsTotal,
		AccountBansTotal,
		SteamLoginsTotal,
	)
}
