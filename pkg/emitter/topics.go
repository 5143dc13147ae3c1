package emitter

// Outbound topics for derived events.
const (
	TopicPerformanceAlerts        = "performance-alerts"
	TopicSLAViolations            = "sla-violations"
	TopicAggregatedMetrics        = "aggregated-performance-metrics"
	TopicPerformanceTrends        = "performance-trends"
	TopicCacheAlerts              = "cache-performance-alerts"
	TopicAPITimeouts              = "api-timeout-events"
	TopicAPICircuitBreaker        = "api-circuit-breaker"
	TopicQueueLagAlerts           = "queue-lag-alerts"
	TopicBatchJobAlerts           = "batch-job-alerts"
	TopicBottleneckAlerts         = "bottleneck-alerts"
	TopicCascadingFailureRisks    = "cascading-failure-risks"
	TopicDependencyAlerts         = "dependency-alerts"
	TopicResourceAlerts           = "resource-alerts"
	TopicThroughputAlerts         = "throughput-alerts"
	TopicRootCauseAnalysis        = "root-cause-analysis"
	TopicOptimizations            = "optimization-recommendations"
	TopicAutoScalingTriggers      = "auto-scaling-triggers"
	TopicCapacityAlerts           = "capacity-alerts"
	TopicResponseTimeAnalysis     = "response-time-analysis-requests"
	TopicPerformanceTuning        = "performance-tuning-requests"
	TopicThroughputAnalysis       = "throughput-analysis-requests"
	TopicResourceScaling          = "resource-scaling-requests"
	TopicCPUScaling               = "cpu-scaling-requests"
	TopicMemoryLeakDetection      = "memory-leak-detection"
	TopicDiskHealthChecks         = "disk-health-checks"
	TopicNetworkChecks            = "network-connectivity-checks"
	TopicErrorAnalysis            = "error-analysis-requests"
	TopicCircuitBreakerActivation = "circuit-breaker-activation"
	TopicQueueOptimization        = "queue-optimization-requests"
	TopicProcessingCapacity       = "processing-capacity-scaling"
	TopicConnectionPool           = "connection-pool-optimization"
	TopicDatabaseHealthChecks     = "database-health-checks"
	TopicTransactionOptimization  = "transaction-optimization-requests"
	TopicCriticalProviderDown     = "critical-provider-down-alerts"
	TopicProviderHealth           = "provider-health-alerts"
	TopicProviderFallback         = "provider-status-fallback-events"
	TopicDataQuality              = "data-quality-events"
	TopicIntegrationMonitoring    = "integration-monitoring"
	TopicSlowQueryAlerts          = "slow-query-alerts"
	TopicFraudBlocking            = "fraud-blocking"
)
