// Custom Prometheus collectors fed from the report.Bus, alongside the
// gRPC interceptor metrics grpc_prometheus.Register already exposes on
// the same /metrics endpoint promhttp.Handler serves.
package rpc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/offstlabs/offst/report"
)

var (
	mutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "offst",
		Name:      "mutations_total",
		Help:      "Count of report.Mutation events applied, by kind.",
	}, []string{"kind"})

	friendsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offst",
		Name:      "friends_online",
		Help:      "Current number of friends with a live Channeler session.",
	})

	reportSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offst",
		Name:      "report_subscribers",
		Help:      "Current number of live report.Bus subscribers (this process's own metrics feed included).",
	})
)

func init() {
	prometheus.MustRegister(mutationsTotal, friendsOnline, reportSubscribers)
}

var mutationKindNames = map[report.MutationKind]string{
	report.MutationFriendAdded:          "friend_added",
	report.MutationFriendRemoved:        "friend_removed",
	report.MutationFriendStatusChanged:  "friend_status_changed",
	report.MutationFriendOnline:         "friend_online",
	report.MutationFriendOffline:        "friend_offline",
	report.MutationCurrencyConfigChanged: "currency_config_changed",
	report.MutationCurrencyRemoved:       "currency_removed",
	report.MutationBalanceChanged:        "balance_changed",
	report.MutationChannelInconsistent:   "channel_inconsistent",
	report.MutationChannelReset:          "channel_reset",
	report.MutationInvoiceAdded:          "invoice_added",
	report.MutationInvoiceRemoved:        "invoice_removed",
	report.MutationPaymentAdded:          "payment_added",
	report.MutationPaymentStageChanged:   "payment_stage_changed",
	report.MutationPaymentRemoved:        "payment_removed",
	report.MutationRelayListChanged:      "relay_list_changed",
	report.MutationDoneAppRequest:        "done_app_request",
}

func mutationKindName(k report.MutationKind) string {
	if name, ok := mutationKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// runMetricsFeed keeps the collectors above current until sub's channel
// is closed (by Subscription.Close on Stop).
func runMetricsFeed(bus *report.Bus, sub *report.Subscription) {
	online := 0
	for m := range sub.Mutations() {
		mutationsTotal.WithLabelValues(mutationKindName(m.Kind)).Inc()
		reportSubscribers.Set(float64(bus.Count()))
		switch m.Kind {
		case report.MutationFriendOnline:
			online++
			friendsOnline.Set(float64(online))
		case report.MutationFriendOffline:
			if online > 0 {
				online--
			}
			friendsOnline.Set(float64(online))
		}
	}
}
