package telemetry

import (
	"sync"
	"time"
)

// Counter metrics
const (
	CounterHTTPRequests        = "http_requests_total"
	CounterHTTPRequestsSuccess = "http_requests_success_total"
	CounterHTTPRequestsError   = "http_requests_error_total"
	CounterSnapshotsReceived   = "snapshots_received_total"
	CounterDashboardsComputed  = "dashboards_computed_total"
	CounterCacheHits           = "dashboard_cache_hits_total"
	CounterCacheMisses         = "dashboard_cache_misses_total"
	CounterCaseWrites          = "case_writes_total"
	CounterCaseWritesRejected  = "case_writes_rejected_total"
	CounterMessagesSent        = "messages_sent_total"
	CounterMessagesReceived    = "messages_received_total"
	CounterMessagesProcessed   = "messages_processed_total"
	CounterMessagesError       = "messages_error_total"
	CounterDBQueriesTotal      = "db_queries_total"
	CounterDBQueriesError      = "db_queries_error_total"
	CounterErrorsTotal         = "errors_total"
)

// Gauge metrics
const (
	GaugeCases          = "cases"
	GaugeOpenCases      = "open_cases"
	GaugeSnapshotAgeSec = "snapshot_age_seconds"
)

// Write operation names
const (
	OperationCreate          = "create"
	OperationStatus          = "status"
	OperationETA             = "eta"
	OperationTeam            = "team"
	OperationSource          = "source"
	OperationTransport       = "transport"
	OperationRootCauseToggle = "root_cause_toggle"
	OperationRootCauseSet    = "root_cause_set"
	OperationRootCauseDelete = "root_cause_delete"
	OperationNotes           = "notes"
	OperationDashboard       = "dashboard"
	OperationReindex         = "reindex"
)

// Database query types
const (
	DBQueryTypeSelect = "select"
	DBQueryTypeInsert = "insert"
	DBQueryTypeUpdate = "update"
	DBQueryTypeDelete = "delete"
)

// Message bus operations
const (
	MessageBusOperationSend     = "send"
	MessageBusOperationReceive  = "receive"
	MessageBusOperationComplete = "complete"
	MessageBusOperationReject   = "reject"
)

// Error types
const (
	ErrorTypeHTTP       = "http"
	ErrorTypeValidation = "validation"
	ErrorTypeDatabase   = "database"
	ErrorTypeMessageBus = "message_bus"
	ErrorTypeInternal   = "internal"
)

// Collector keeps in-process operational counters, gauges and latency samples
type Collector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	requestCounts       map[string]int64
	requestLatencies    map[string][]time.Duration
	operationCounts     map[string]int64
	operationLatencies  map[string][]time.Duration
	messageBusCounts    map[string]int64
	messageBusLatencies map[string][]time.Duration
	databaseQueryCounts map[string]int64
	databaseLatencies   map[string][]time.Duration
	errorCounts         map[string]int64
	startTime           time.Time
	maxSamples          int
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		counters:            make(map[string]int64),
		gauges:              make(map[string]float64),
		requestCounts:       make(map[string]int64),
		requestLatencies:    make(map[string][]time.Duration),
		operationCounts:     make(map[string]int64),
		operationLatencies:  make(map[string][]time.Duration),
		messageBusCounts:    make(map[string]int64),
		messageBusLatencies: make(map[string][]time.Duration),
		databaseQueryCounts: make(map[string]int64),
		databaseLatencies:   make(map[string][]time.Duration),
		errorCounts:         make(map[string]int64),
		startTime:           time.Now(),
		maxSamples:          1000,
	}
}

// IncrementCounter increments a counter by the given value
func (m *Collector) IncrementCounter(name string, value int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[name] += value
}

// SetGauge sets a gauge to the given value
func (m *Collector) SetGauge(name string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[name] = value
}

// RecordHTTPRequest records one served request
func (m *Collector) RecordHTTPRequest(path string, statusCode int, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterHTTPRequests]++
	m.requestCounts[path]++
	m.addSample(m.requestLatencies, path, latency)

	if statusCode >= 200 && statusCode < 400 {
		m.counters[CounterHTTPRequestsSuccess]++
	} else {
		m.counters[CounterHTTPRequestsError]++
		m.errorCounts[ErrorTypeHTTP]++
	}
}

// RecordOperation records one case write or computation and whether it succeeded. Error types
// are recorded by the caller with RecordError.
func (m *Collector) RecordOperation(operation string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.operationCounts[operation]++
	m.addSample(m.operationLatencies, operation, latency)

	switch operation {
	case OperationDashboard:
		m.counters[CounterDashboardsComputed]++
	case OperationReindex:
	default:
		if success {
			m.counters[CounterCaseWrites]++
		} else {
			m.counters[CounterCaseWritesRejected]++
		}
	}
}

// RecordMessageBusOperation records one service bus interaction
func (m *Collector) RecordMessageBusOperation(operation string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.messageBusCounts[operation]++
	switch operation {
	case MessageBusOperationSend:
		m.counters[CounterMessagesSent]++
	case MessageBusOperationReceive:
		m.counters[CounterMessagesReceived]++
	case MessageBusOperationComplete:
		m.counters[CounterMessagesProcessed]++
	}
	if !success {
		m.counters[CounterMessagesError]++
		m.errorCounts[ErrorTypeMessageBus]++
	}
	m.addSample(m.messageBusLatencies, operation, latency)
}

// RecordDatabaseQuery records one gorm statement
func (m *Collector) RecordDatabaseQuery(queryType string, success bool, latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.databaseQueryCounts[queryType]++
	m.counters[CounterDBQueriesTotal]++
	if !success {
		m.counters[CounterDBQueriesError]++
		m.errorCounts[ErrorTypeDatabase]++
	}
	m.addSample(m.databaseLatencies, queryType, latency)
}

// RecordError records an error of the given type
func (m *Collector) RecordError(errorType string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.errorCounts[errorType]++
	m.counters[CounterErrorsTotal]++
}

// RecordCache records a dashboard cache lookup
func (m *Collector) RecordCache(hit bool) {
	if hit {
		m.IncrementCounter(CounterCacheHits, 1)
	} else {
		m.IncrementCounter(CounterCacheMisses, 1)
	}
}

// RecordSnapshot records a delivered snapshot and its case counts
func (m *Collector) RecordSnapshot(cases, open int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.counters[CounterSnapshotsReceived]++
	m.gauges[GaugeCases] = float64(cases)
	m.gauges[GaugeOpenCases] = float64(open)
}

// Counter returns the current value of a counter
func (m *Collector) Counter(name string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.counters[name]
}

// ErrorCount returns how many errors of errorType were recorded
func (m *Collector) ErrorCount(errorType string) int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.errorCounts[errorType]
}

// addSample must be called with the mutex held
func (m *Collector) addSample(into map[string][]time.Duration, key string, latency time.Duration) {
	samples := into[key]
	if len(samples) >= m.maxSamples {
		samples = samples[1:]
	}
	into[key] = append(samples, latency)
}

// GetMetrics returns all collected metrics in a structured format
func (m *Collector) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":           time.Since(m.startTime).Seconds(),
		"counters":                 copyInts(m.counters),
		"gauges":                   copyFloats(m.gauges),
		"request_counts":           copyInts(m.requestCounts),
		"request_latencies_ms":     averages(m.requestLatencies),
		"operation_counts":         copyInts(m.operationCounts),
		"operation_latencies_ms":   averages(m.operationLatencies),
		"message_bus_counts":       copyInts(m.messageBusCounts),
		"message_bus_latencies_ms": averages(m.messageBusLatencies),
		"database_query_counts":    copyInts(m.databaseQueryCounts),
		"database_latencies_ms":    averages(m.databaseLatencies),
		"error_counts":             copyInts(m.errorCounts),
	}
}

// GetHealthStatus returns a simple health status based on metrics
func (m *Collector) GetHealthStatus() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	errorRate := 0.0
	totalRequests := m.counters[CounterHTTPRequests]
	if totalRequests > 0 {
		errorRate = float64(m.counters[CounterHTTPRequestsError]) / float64(totalRequests)
	}

	// 5% error rate is considered unhealthy
	const errorRateThreshold = 0.05

	return map[string]interface{}{
		"status": map[string]interface{}{
			"healthy":        errorRate <= errorRateThreshold,
			"uptime_seconds": time.Since(m.startTime).Seconds(),
		},
		"metrics": map[string]interface{}{
			"total_requests":      totalRequests,
			"error_rate":          errorRate,
			"cases":               m.gauges[GaugeCases],
			"open_cases":          m.gauges[GaugeOpenCases],
			"snapshots_received":  m.counters[CounterSnapshotsReceived],
			"dashboards_computed": m.counters[CounterDashboardsComputed],
			"messages_processed":  m.counters[CounterMessagesProcessed],
			"messages_error":      m.counters[CounterMessagesError],
		},
	}
}

func averages(samples map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(samples))
	for key, latencies := range samples {
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out[key] = float64(sum.Milliseconds()) / float64(len(latencies))
	}
	return out
}

func copyInts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	globalCollector *Collector
	once            sync.Once
)

// GetCollector returns the process-wide collector
func GetCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}
