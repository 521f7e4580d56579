package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recipient указывает, кому отправлялось сообщение.
type Recipient string

const (
	RecipientOperator Recipient = "operator"
	RecipientCustomer Recipient = "customer"
)

// MessageKind задаёт вид отправленного сообщения.
type MessageKind string

const (
	KindAck          MessageKind = "ack"
	KindOrder        MessageKind = "order"
	KindConfirmation MessageKind = "confirmation"
	KindFallback     MessageKind = "fallback"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	ordersReceivedTotal *prometheus.CounterVec
	messagesSentTotal   *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	duplicatesTotal     *prometheus.CounterVec

	registry *prometheus.Registry
)

// Init создаёт собственный registry и регистрирует в нём метрики бота.
func Init() error {
	reg := prometheus.NewRegistry()

	received := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_received_total",
			Help: "Orders received from the web app, by parse mode",
		},
		[]string{"mode"},
	)
	sent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Outbound Telegram messages by recipient, kind and status",
		},
		[]string{"recipient", "kind", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "order_dispatch_duration_seconds",
			Help:    "Time spent delivering an order to operator and customer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operator_delivered"},
	)
	duplicates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_actions_suppressed_total",
			Help: "Repeated user actions suppressed within the de-duplication window",
		},
		[]string{"action"},
	)

	for name, c := range map[string]prometheus.Collector{
		"orders_received_total":              received,
		"notifications_sent_total":           sent,
		"order_dispatch_duration_seconds":    duration,
		"duplicate_actions_suppressed_total": duplicates,
	} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register %s: %w", name, err)
		}
	}

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	ordersReceivedTotal = received
	messagesSentTotal = sent
	dispatchDuration = duration
	duplicatesTotal = duplicates
	registry = reg
	return nil
}

// Handler отдаёт метрики в формате Prometheus.
func Handler() http.Handler {
	if registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics registry not initialized"))
		})
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func RecordOrderReceived(fallback bool) {
	if ordersReceivedTotal == nil {
		return
	}
	mode := "structured"
	if fallback {
		mode = "raw"
	}
	ordersReceivedTotal.WithLabelValues(mode).Inc()
}

func RecordMessage(recipient Recipient, kind MessageKind, err error) {
	if messagesSentTotal == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	messagesSentTotal.WithLabelValues(string(recipient), string(kind), string(status)).Inc()
}

func RecordDispatch(operatorDelivered bool, d time.Duration) {
	if dispatchDuration == nil {
		return
	}
	label := "false"
	if operatorDelivered {
		label = "true"
	}
	dispatchDuration.WithLabelValues(label).Observe(d.Seconds())
}

func RecordDuplicate(action string) {
	if duplicatesTotal != nil {
		duplicatesTotal.WithLabelValues(action).Inc()
	}
}
