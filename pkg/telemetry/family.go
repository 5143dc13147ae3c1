// Package telemetry defines the event schema consumed by the engine: the
// fixed set of families, the event types within each family, and the
// envelope every producer publishes.
package telemetry

// Family identifies an event family. Each family maps to one inbound topic.
type Family string

const (
	FamilyPerformanceMetrics    Family = "performance_metrics"
	FamilyPerformanceMonitoring Family = "performance_monitoring"
	FamilySystemHealth          Family = "system_health"
	FamilyComponentHealth       Family = "component_health"
	FamilyServiceAvailability   Family = "service_availability"
	FamilyResourceUtilization   Family = "resource_utilization"
	FamilyServiceDependency     Family = "service_dependency"
	FamilyPaymentProvider       Family = "payment_provider"
	FamilyConsistency           Family = "consistency"
	FamilyUserExperience        Family = "user_experience"
	FamilyPredictiveAnalytics   Family = "predictive_analytics"
)

// Inbound topic per family.
const (
	TopicPerformanceMetrics    = "performance-metrics"
	TopicPerformanceMonitoring = "performance-monitoring-events"
	TopicSystemHealth          = "system-health-events"
	TopicComponentHealth       = "component-health-alerts"
	TopicServiceAvailability   = "service-availability-events"
	TopicResourceUtilization   = "resource-utilization"
	TopicServiceDependency     = "service-dependency-tracking"
	TopicPaymentProvider       = "payment-provider-status-changes"
	TopicConsistency           = "consistency-alerts"
	TopicUserExperience        = "user-experience-metrics-events"
	TopicPredictiveAnalytics   = "predictive-analytics"
)

var familyTopics = map[Family]string{
	FamilyPerformanceMetrics:    TopicPerformanceMetrics,
	FamilyPerformanceMonitoring: TopicPerformanceMonitoring,
	FamilySystemHealth:          TopicSystemHealth,
	FamilyComponentHealth:       TopicComponentHealth,
	FamilyServiceAvailability:   TopicServiceAvailability,
	FamilyResourceUtilization:   TopicResourceUtilization,
	FamilyServiceDependency:     TopicServiceDependency,
	FamilyPaymentProvider:       TopicPaymentProvider,
	FamilyConsistency:           TopicConsistency,
	FamilyUserExperience:        TopicUserExperience,
	FamilyPredictiveAnalytics:   TopicPredictiveAnalytics,
}

// Topic returns the inbound topic for the family.
func (f Family) Topic() string {
	return familyTopics[f]
}

// Families returns every known family.
func Families() []Family {
	out := make([]Family, 0, len(familyTopics))
	for f := range familyTopics {
		out = append(out, f)
	}
	return out
}

// DefaultConcurrency returns the partition concurrency used when the
// configuration does not override it.
func (f Family) DefaultConcurrency() int {
	switch f {
	case FamilyPerformanceMonitoring:
		return 6
	case FamilySystemHealth, FamilyComponentHealth, FamilyServiceAvailability, FamilyConsistency:
		return 4
	default:
		return 4
	}
}
