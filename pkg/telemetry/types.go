package telemetry

// Performance metrics events.
const (
	TypeRequestStarted         = "REQUEST_STARTED"
	TypeRequestCompleted       = "REQUEST_COMPLETED"
	TypeRequestFailed          = "REQUEST_FAILED"
	TypeDatabaseQuery          = "DATABASE_QUERY"
	TypeCacheOperation         = "CACHE_OPERATION"
	TypeExternalAPICall        = "EXTERNAL_API_CALL"
	TypeMessageProcessing      = "MESSAGE_PROCESSING"
	TypeBatchJobExecution      = "BATCH_JOB_EXECUTION"
	TypeTransactionTiming      = "TRANSACTION_TIMING"
	TypeServiceDependency      = "SERVICE_DEPENDENCY"
	TypeResourceUsage          = "RESOURCE_USAGE"
	TypeThroughputMeasurement  = "THROUGHPUT_MEASUREMENT"
	TypeLatencySpike           = "LATENCY_SPIKE"
	TypePerformanceDegradation = "PERFORMANCE_DEGRADATION"
	TypeCapacityWarning        = "CAPACITY_WARNING"
)

// System health statuses (also used as event types on health topics).
const (
	TypeHealthy     = "HEALTHY"
	TypeDegraded    = "DEGRADED"
	TypeUnhealthy   = "UNHEALTHY"
	TypeCritical    = "CRITICAL"
	TypeRecovering  = "RECOVERING"
	TypeMaintenance = "MAINTENANCE"
	TypeUnknown     = "UNKNOWN"
)

// Performance monitoring metric types.
const (
	MetricResponseTime        = "RESPONSE_TIME"
	MetricThroughput          = "THROUGHPUT"
	MetricCPUUtilization      = "CPU_UTILIZATION"
	MetricMemoryUtilization   = "MEMORY_UTILIZATION"
	MetricDiskIO              = "DISK_IO"
	MetricNetworkIO           = "NETWORK_IO"
	MetricErrorRate           = "ERROR_RATE"
	MetricQueueLength         = "QUEUE_LENGTH"
	MetricDatabaseConnections = "DATABASE_CONNECTIONS"
	MetricTransactionRate     = "TRANSACTION_RATE"
)

// Resource utilization events.
const (
	TypeResourceData       = "RESOURCE_DATA"
	TypeCPU                = "CPU"
	TypeMemory             = "MEMORY"
	TypeDisk               = "DISK"
	TypeNetwork            = "NETWORK"
	TypeContainerResource  = "CONTAINER_RESOURCE"
	TypeResourceAlert      = "RESOURCE_ALERT"
	TypeResourceTrend      = "RESOURCE_TREND"
	TypeHighUsage          = "HIGH_USAGE"
	TypeLowUsage           = "LOW_USAGE"
	TypeResourceExhaustion = "RESOURCE_EXHAUSTION"
	TypeResourceRecovery   = "RESOURCE_RECOVERY"
	TypeBottleneck         = "BOTTLENECK"
	TypeOptimization       = "OPTIMIZATION"
)

// Service-dependency tracking events.
const (
	TypeDependencyData    = "DEPENDENCY_DATA"
	TypeDependencyHealth  = "DEPENDENCY_HEALTH"
	TypeDependencyFailure = "DEPENDENCY_FAILURE"
	TypeServiceMap        = "SERVICE_MAP"
	TypeDependencyAlert   = "DEPENDENCY_ALERT"
	TypeCriticalPath      = "CRITICAL_PATH"
	TypeCircuitBreaker    = "CIRCUIT_BREAKER"
	TypeTimeout           = "TIMEOUT"
	TypeRetry             = "RETRY"
	TypeRecovery          = "RECOVERY"
	TypeCascadeFailure    = "CASCADE_FAILURE"
	TypeIsolation         = "ISOLATION"
	TypeDiscovery         = "DISCOVERY"
)

// Payment provider events.
const (
	TypeProviderDown      = "PROVIDER_DOWN"
	TypeProviderRecovered = "PROVIDER_RECOVERED"
)

// Consistency events.
const (
	TypeDataMismatch                  = "DATA_MISMATCH"
	TypeReferentialIntegrityViolation = "REFERENTIAL_INTEGRITY_VIOLATION"
	TypeDuplicateRecords              = "DUPLICATE_RECORDS"
	TypeOrphanedRecords               = "ORPHANED_RECORDS"
	TypeChecksumMismatch              = "CHECKSUM_MISMATCH"
	TypeCrossSystemInconsistency      = "CROSS_SYSTEM_INCONSISTENCY"
	TypeTemporalInconsistency         = "TEMPORAL_INCONSISTENCY"
	TypeSchemaDrift                   = "SCHEMA_DRIFT"
	TypeConsistencyRestored           = "CONSISTENCY_RESTORED"
)

// User experience events.
const (
	TypePageLoad           = "PAGE_LOAD"
	TypeUserInteraction    = "USER_INTERACTION"
	TypeNavigation         = "NAVIGATION"
	TypeClientError        = "CLIENT_ERROR"
	TypeSessionData        = "SESSION_DATA"
	TypeEngagement         = "ENGAGEMENT"
	TypeFormInteraction    = "FORM_INTERACTION"
	TypeClickstream        = "CLICKSTREAM"
	TypeJourneyStep        = "JOURNEY_STEP"
	TypeFrustrationSignal  = "FRUSTRATION_SIGNAL"
	TypeAccessibilityIssue = "ACCESSIBILITY_ISSUE"
	TypeDeviceMetrics      = "DEVICE_METRICS"
	TypeUserFeedback       = "USER_FEEDBACK"
	TypeSearch             = "SEARCH"
	TypeScroll             = "SCROLL"
)

// Predictive analytics events.
const (
	TypeTimeSeriesPrediction   = "TIME_SERIES_PREDICTION"
	TypeAnomalyForecast        = "ANOMALY_FORECAST"
	TypeCapacityPrediction     = "CAPACITY_PREDICTION"
	TypeFailurePrediction      = "FAILURE_PREDICTION"
	TypeUserBehaviorPrediction = "USER_BEHAVIOR_PREDICTION"
	TypeFraudPrediction        = "FRAUD_PREDICTION"
	TypeRevenueForecast        = "REVENUE_FORECAST"
	TypePerformancePrediction  = "PERFORMANCE_PREDICTION"
	TypeIncidentPrediction     = "INCIDENT_PREDICTION"
	TypeDemandForecast         = "DEMAND_FORECAST"
	TypeTrendAnalysis          = "TREND_ANALYSIS"
	TypeSeasonalityDetection   = "SEASONALITY_DETECTION"
	TypeCorrelationAnalysis    = "CORRELATION_ANALYSIS"
	TypeModelPerformance       = "MODEL_PERFORMANCE"
	TypePredictiveAlert        = "PREDICTIVE_ALERT"
)

var knownTypes = map[Family]map[string]struct{}{
	FamilyPerformanceMetrics: set(
		TypeRequestStarted, TypeRequestCompleted, TypeRequestFailed,
		TypeDatabaseQuery, TypeCacheOperation, TypeExternalAPICall,
		TypeMessageProcessing, TypeBatchJobExecution, TypeTransactionTiming,
		TypeServiceDependency, TypeResourceUsage, TypeThroughputMeasurement,
		TypeLatencySpike, TypePerformanceDegradation, TypeCapacityWarning,
	),
	FamilyPerformanceMonitoring: set(
		MetricResponseTime, MetricThroughput, MetricCPUUtilization,
		MetricMemoryUtilization, MetricDiskIO, MetricNetworkIO,
		MetricErrorRate, MetricQueueLength, MetricDatabaseConnections,
		MetricTransactionRate,
	),
	FamilySystemHealth: set(
		TypeHealthy, TypeDegraded, TypeUnhealthy, TypeCritical,
		TypeRecovering, TypeMaintenance, TypeUnknown,
	),
	FamilyComponentHealth: set(
		TypeHealthy, TypeDegraded, TypeUnhealthy, TypeCritical,
		TypeRecovering, TypeMaintenance, TypeUnknown,
	),
	FamilyServiceAvailability: set(
		TypeHealthy, TypeDegraded, TypeUnhealthy, TypeCritical,
		TypeRecovering, TypeMaintenance, TypeUnknown,
	),
	FamilyResourceUtilization: set(
		TypeResourceData, TypeCPU, TypeMemory, TypeDisk, TypeNetwork,
		TypeContainerResource, TypeResourceAlert, TypeResourceTrend,
		TypeHighUsage, TypeLowUsage, TypeResourceExhaustion,
		TypeResourceRecovery, TypeBottleneck, TypeOptimization,
	),
	FamilyServiceDependency: set(
		TypeDependencyData, TypeDependencyHealth, TypeDependencyFailure,
		TypeServiceMap, TypeDependencyAlert, TypeCriticalPath,
		TypeCircuitBreaker, TypeTimeout, TypeRetry, TypeRecovery,
		TypeCascadeFailure, TypeOptimization, TypeIsolation, TypeDiscovery,
	),
	FamilyPaymentProvider: set(TypeProviderDown, TypeProviderRecovered),
	FamilyConsistency: set(
		TypeDataMismatch, TypeReferentialIntegrityViolation,
		TypeDuplicateRecords, TypeOrphanedRecords, TypeChecksumMismatch,
		TypeCrossSystemInconsistency, TypeTemporalInconsistency,
		TypeSchemaDrift, TypeConsistencyRestored,
	),
	FamilyUserExperience: set(
		TypePageLoad, TypeUserInteraction, TypeNavigation, TypeClientError,
		TypeSessionData, TypeEngagement, TypeFormInteraction, TypeClickstream,
		TypeJourneyStep, TypeFrustrationSignal, TypeAccessibilityIssue,
		TypeDeviceMetrics, TypeUserFeedback, TypeSearch, TypeScroll,
	),
	FamilyPredictiveAnalytics: set(
		TypeTimeSeriesPrediction, TypeAnomalyForecast, TypeCapacityPrediction,
		TypeFailurePrediction, TypeUserBehaviorPrediction, TypeFraudPrediction,
		TypeRevenueForecast, TypePerformancePrediction, TypeIncidentPrediction,
		TypeDemandForecast, TypeTrendAnalysis, TypeSeasonalityDetection,
		TypeCorrelationAnalysis, TypeModelPerformance, TypePredictiveAlert,
	),
}

func set(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

// KnownType reports whether the event type belongs to the family's schema.
// Unknown types still flow through the runtime but route to the generic
// handler path.
func KnownType(family Family, eventType string) bool {
	types, ok := knownTypes[family]
	if !ok {
		return false
	}
	_, ok = types[eventType]
	return ok
}
