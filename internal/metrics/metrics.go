package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_messages_total",
			Help: "Message lifecycle counter by stage and service",
		},
		[]string{"stage", "service"}, // queued|sent|delivered|error , twilio|vonage|bandwidth|noop
	)

	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_send_rejections_total",
			Help: "Send-gate compliance rejections by reason",
		},
		[]string{"reason"},
	)

	DeliveryReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_delivery_reports_total",
			Help: "Delivery-report reconciliation results",
		},
		[]string{"service", "result"}, // applied|duplicate|orphan|stale
	)

	InboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "textrelay_inbound_total",
			Help: "Inbound message reassembly results",
		},
		[]string{"service", "result"}, // assembled|pending|unsolicited
	)

	LinkRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "textrelay_link_rotations_total",
			Help: "Shortlink domain selections",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		MessagesTotal,
		RejectionsTotal,
		DeliveryReportsTotal,
		InboundTotal,
		LinkRotationsTotal,
	)
}
