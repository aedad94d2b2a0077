package prom

import (
	"sync"

	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
	"github.com/nimasrn/loyalty-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemLedger = "ledger"
	SystemDeals  = "deals"
	SystemNPS    = "nps"
	SystemQueue  = "queue"
)
const (
	MetricLedgerOperations     = "operations_total"
	MetricLedgerRedeemDuration = "redeem_duration_seconds"
	MetricLedgerBalanceDrift   = "balance_drift_total"
	MetricDealOperations       = "operations_total"
	MetricNPSSubmissions       = "submissions_total"
	MetricQueuePending         = "pending_messages"
	MetricQueueInFlight        = "in_flight_messages"
	MetricQueueProcessDuration = "process_duration_seconds"
)

const (
	ResultOK       = "ok"
	ResultReplayed = "replayed"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounters = make(map[string]prometheus.Counter)
var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionGaugeVec = make(map[string]*prometheus.GaugeVec)
var MetricCollectionHistogram = make(map[string]prometheus.Histogram)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemLedger, MetricLedgerOperations, []string{"op", "result"}))
	hasError(createHistogram(SystemLedger, MetricLedgerRedeemDuration))
	hasError(createCounter(SystemLedger, MetricLedgerBalanceDrift))
	hasError(createCounterVec(SystemDeals, MetricDealOperations, []string{"op", "result"}))
	hasError(createCounterVec(SystemNPS, MetricNPSSubmissions, []string{"result"}))
	hasError(createGaugeVec(SystemQueue, MetricQueuePending, []string{"queue"}))
	hasError(createGaugeVec(SystemQueue, MetricQueueInFlight, []string{"queue"}))
	hasError(createHistogramVec(SystemQueue, MetricQueueProcessDuration, []string{"type", "result"}))

	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounter(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounters[subsystem+name] = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	})
	return prometheus.Register(MetricCollectionCounters[subsystem+name])
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogram(subsystem, name string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogram[subsystem+name] = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	})
	return prometheus.Register(MetricCollectionHistogram[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func createGaugeVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()

	MetricCollectionGaugeVec[subsystem+name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionGaugeVec[subsystem+name])
}

func IncCounter(subsystem, name string) {
	AddCounter(subsystem, name, 1)
}

func AddCounter(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounters[subsystem+name]; ok {
		v.Add(number)
		return
	}
	logger.Warn("[metrics-server] counter not found", "subsystem", subsystem, "name", name)
}

func IncGaugeVec(subsystem, name string, labelValues ...string) {
	AddGaugeVec(subsystem, name, 1, labelValues...)
}

func AddGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func SetGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionGaugeVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Set(num)
		return
	}
	logger.Warn("[metrics-server] gauge not found", "subsystem", subsystem, "name", name)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogram(subsystem, name string, number float64) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogram[subsystem+name]; ok {
		v.Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

// RecordLedgerOperation counts one ledger mutation attempt by outcome.
func RecordLedgerOperation(op, result string) {
	IncCounterVec(SystemLedger, MetricLedgerOperations, op, result)
}

func ObserveRedeemDuration(seconds float64) {
	AddHistogram(SystemLedger, MetricLedgerRedeemDuration, seconds)
}

func RecordBalanceDrift() {
	IncCounter(SystemLedger, MetricLedgerBalanceDrift)
}

func RecordDealOperation(op, result string) {
	IncCounterVec(SystemDeals, MetricDealOperations, op, result)
}

func RecordNPSSubmission(result string) {
	IncCounterVec(SystemNPS, MetricNPSSubmissions, result)
}

func SetQueuePending(queue string, pending int64) {
	SetGaugeVec(SystemQueue, MetricQueuePending, float64(pending), queue)
}

// TrackInFlight counts a message as being handled and returns the func that
// stops counting it.
func TrackInFlight(queue string) func() {
	IncGaugeVec(SystemQueue, MetricQueueInFlight, queue)
	return func() { AddGaugeVec(SystemQueue, MetricQueueInFlight, -1, queue) }
}

func ObserveProcessing(eventType, result string, seconds float64) {
	AddHistogramVec(SystemQueue, MetricQueueProcessDuration, seconds, eventType, result)
}
