// Package metrics groups the Prometheus instruments for the video
// session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	TokensIssued     *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	ActiveRooms      prometheus.Gauge
	RoomMembers      prometheus.Gauge
	SignalsForwarded prometheus.Counter
	SignalsDropped   *prometheus.CounterVec
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_tokens_issued_total",
			Help:      "Room token issuance attempts by outcome.",
		}, []string{"outcome"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_token_verifications_total",
			Help:      "Room token verifications by outcome.",
		}, []string{"outcome"}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_active_rooms",
			Help:      "Rooms currently holding at least one member.",
		}),
		RoomMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_room_members",
			Help:      "Sessions currently joined to any room.",
		}),
		SignalsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_signals_forwarded_total",
			Help:      "Signaling payload deliveries to room peers.",
		}),
		SignalsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_signals_dropped_total",
			Help:      "Signaling payloads dropped by reason.",
		}, []string{"reason"}),
	}
}

// HandlerFor exposes the given registry; the default registry is used
// when nil.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
