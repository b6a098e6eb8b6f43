// Package metrics exposes gateway activity as Prometheus collectors.
//
// A Collector observes BLE task outcomes (as a ble.Observer), bridged
// values (as a thing.Recorder), scan results and HTTP requests. Each
// Collector owns its registry so several can coexist in tests.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

const namespace = "geenygw"

// Collector holds the gateway's Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	tasks         *prometheus.CounterVec
	bridged       *prometheus.CounterVec
	bridgedBytes  *prometheus.CounterVec
	scanned       prometheus.Gauge
	scannedNative prometheus.Gauge
	requests      *prometheus.CounterVec
}

// New creates a Collector with Go runtime and process collectors
// registered alongside the gateway metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ble_tasks_total",
			Help:      "BLE tasks retired by kind and result.",
		}, []string{"kind", "result"}),
		bridged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridged_values_total",
			Help:      "Values bridged between devices and the broker by direction.",
		}, []string{"direction"}),
		bridgedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridged_bytes_total",
			Help:      "Payload bytes bridged between devices and the broker by direction.",
		}, []string{"direction"}),
		scanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_things",
			Help:      "Things returned by the last scan.",
		}),
		scannedNative: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_native_things",
			Help:      "Native things returned by the last scan.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.tasks,
		c.bridged,
		c.bridgedBytes,
		c.scanned,
		c.scannedNative,
		c.requests,
	)
	return c
}

// Registry returns the registry the metrics are registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// TaskFinished implements ble.Observer.
func (c *Collector) TaskFinished(kind ble.TaskKind, err error) {
	c.tasks.WithLabelValues(string(kind), taskResult(err)).Inc()
}

// Record implements thing.Recorder.
func (c *Collector) Record(ev thing.Event) {
	dir := string(ev.Direction)
	c.bridged.WithLabelValues(dir).Inc()
	c.bridgedBytes.WithLabelValues(dir).Add(float64(len(ev.Data)))
}

// ScanFinished records the outcome of a scan.
func (c *Collector) ScanFinished(things []device.Info) {
	native := 0
	for _, t := range things {
		if t.IsNative {
			native++
		}
	}
	c.scanned.Set(float64(len(things)))
	c.scannedNative.Set(float64(native))
}

// ObserveRequest counts one API request.
func (c *Collector) ObserveRequest(route, method string, status int) {
	c.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// Snapshot summarises the gateway counters for the JSON metrics endpoint.
type Snapshot struct {
	// Bridged and BridgedBytes are keyed by direction.
	Bridged      map[string]float64 `json:"bridged"`
	BridgedBytes map[string]float64 `json:"bridged_bytes"`
	// Tasks is keyed by task result.
	Tasks          map[string]float64 `json:"tasks"`
	LastScan       int                `json:"last_scan_things"`
	LastScanNative int                `json:"last_scan_native"`
}

// Snapshot reads the current values back from the registry.
func (c *Collector) Snapshot() (Snapshot, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{
		Bridged:      make(map[string]float64),
		BridgedBytes: make(map[string]float64),
		Tasks:        make(map[string]float64),
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch mf.GetName() {
			case namespace + "_bridged_values_total":
				s.Bridged[label(m, "direction")] += m.GetCounter().GetValue()
			case namespace + "_bridged_bytes_total":
				s.BridgedBytes[label(m, "direction")] += m.GetCounter().GetValue()
			case namespace + "_ble_tasks_total":
				s.Tasks[label(m, "result")] += m.GetCounter().GetValue()
			case namespace + "_scan_things":
				s.LastScan = int(m.GetGauge().GetValue())
			case namespace + "_scan_native_things":
				s.LastScanNative = int(m.GetGauge().GetValue())
			}
		}
	}
	return s, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// taskResult maps a task error to a bounded label value.
func taskResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ble.ErrCancelled):
		return "cancelled"
	case errors.Is(err, ble.ErrScanTimeout):
		return "timeout"
	case errors.Is(err, ble.ErrPoweredOff),
		errors.Is(err, ble.ErrUnsupported),
		errors.Is(err, ble.ErrUnauthorized):
		return "unavailable"
	case errors.Is(err, ble.ErrRetryLater):
		return "retry_later"
	default:
		return "error"
	}
}
