package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

var (
	mu          sync.Mutex
	registry    *prometheus.Registry
	metricsFile string
)

// InitMetrics initializes metrics. If the passed file is the empty string, no action is
// taken and all metrics functions remain NOPs. Otherwise, the function creates the go
// runtime and dx-docker metrics in a registry that WriteMetrics writes to the file in
// the Prometheus text exposition format (e.g. for the node exporter textfile collector.)
func InitMetrics(file string) {
	mu.Lock()
	defer mu.Unlock()
	if file == "" || registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	addDxdockerMetrics(registry)
	metricsFile = file
}

// WriteMetrics writes the current value of all metrics to the file passed to InitMetrics.
// Does nothing if metrics were not initialized.
func WriteMetrics() {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		return
	}
	if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
		log.Errorf("unable to write metrics to %s: %s", metricsFile, err)
	}
}

// Gatherer returns the registry, or nil if metrics are not enabled
func Gatherer() prometheus.Gatherer {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		return nil
	}
	return registry
}
