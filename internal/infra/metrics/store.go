package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(storeAppendsTotal, storeMessagesTotal) }

var (
	storeAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_appends_total",
			Help: "Conversation append transactions, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'invalid', 'error'
	)

	storeMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "store_messages_written_total",
			Help: "Message records committed to the conversation store.",
		},
	)
)

func IncStoreAppend(result string, messages int) {
	storeAppendsTotal.WithLabelValues(norm(result)).Inc()
	if result == "ok" {
		storeMessagesTotal.Add(float64(messages))
	}
}
