package runtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentinelops/telemetry-engine/pkg/messaging"
)

const (
	// MaxRetryLevels is the number of retry topics per base topic.
	MaxRetryLevels = 5

	// Failure reasons recorded on dead-lettered records.
	ReasonInvalidFormat     = "INVALID_FORMAT"
	ReasonValidationFailure = "VALIDATION_FAILURE"
	ReasonPermanentFailure  = "PERMANENT_FAILURE"

	headerRetryLevel = "retry_level"
	headerNotBefore  = "not_before"
	headerReason     = "failure_reason"
	headerError      = "failure_error"
)

// RetryTopic returns <base>.retry.<level>.
func RetryTopic(base string, level int) string {
	return fmt.Sprintf("%s.retry.%d", base, level)
}

// DLTTopic returns the dead-letter topic for a base topic.
func DLTTopic(base string) string {
	return base + ".dlt"
}

// FallbackTopic receives records acknowledged while the family breaker is
// open.
func FallbackTopic(base string) string {
	return base + ".fallback"
}

// subscriptionTopics lists the base topic plus all its retry levels; one
// group fetcher covers them all.
func subscriptionTopics(base string) []string {
	topics := make([]string, 0, MaxRetryLevels+1)
	topics = append(topics, base)
	for level := 1; level <= MaxRetryLevels; level++ {
		topics = append(topics, RetryTopic(base, level))
	}
	return topics
}

// retryLevel extracts the retry level a record was fetched at: 0 for the
// base topic, n for <base>.retry.<n>.
func retryLevel(topic string) int {
	idx := strings.LastIndex(topic, ".retry.")
	if idx < 0 {
		return 0
	}
	level, err := strconv.Atoi(topic[idx+len(".retry."):])
	if err != nil || level < 1 || level > MaxRetryLevels {
		return 0
	}
	return level
}

// retryDelay is the republish backoff for the given level: base 1s,
// multiplier 2, capped at 10s.
func retryDelay(level int) time.Duration {
	delay := time.Second
	for i := 1; i < level; i++ {
		delay *= 2
		if delay >= 10*time.Second {
			return 10 * time.Second
		}
	}
	return delay
}

// notBefore reads the earliest processing instant from the record headers.
func notBefore(msg messaging.Message) (time.Time, bool) {
	raw, ok := msg.Headers[headerNotBefore]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func retryHeaders(msg messaging.Message, level int, notBeforeAt time.Time, cause error) map[string]string {
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[headerRetryLevel] = strconv.Itoa(level)
	headers[headerNotBefore] = notBeforeAt.UTC().Format(time.RFC3339Nano)
	headers[headerError] = cause.Error()
	return headers
}

func dltHeaders(msg messaging.Message, reason string, cause error) map[string]string {
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[headerReason] = reason
	if cause != nil {
		headers[headerError] = cause.Error()
	}
	delete(headers, headerNotBefore)
	return headers
}
