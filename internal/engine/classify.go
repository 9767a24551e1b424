package engine

import (
	"strings"

	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/shiperr"
)

// permanentPhrases signal the tool itself reported a terminal condition —
// retrying can never succeed (spec.md §4.6).
var permanentPhrases = []string{
	"already uploaded",
	"already exists",
	"already published",
	"invalid manifest",
}

// retryablePhrases signal registry backpressure or a network-layer blip —
// deliberately narrower than any phrase containing "timeout", since a
// tool-level "upload timed out" message (spec.md §8 scenario 4) is an
// Ambiguous failure resolved by a registry probe, not a retryable one
// (spec.md §4.6).
var retryablePhrases = []string{
	"429",
	"too many requests",
	"connection reset",
	"connection refused",
	"dial tcp",
	"i/o timeout",
	"temporary failure",
}

// Classify maps a subprocess attempt's evidence to a retry class
// (spec.md §4.6). Classification is driven by exit-code patterns and
// well-known stderr phrases; unknown failure shapes default to Ambiguous,
// never to Permanent.
func Classify(result runner.Result) shiperr.ErrorClass {
	if result.ExitCode == 0 {
		return shiperr.ClassRetryable // unreachable in practice: callers only classify non-zero exits
	}
	if result.TimedOut {
		return shiperr.ClassTimeout
	}

	stderr := strings.ToLower(result.Stderr)
	if matchesAny(stderr, permanentPhrases) {
		return shiperr.ClassPermanent
	}
	if matchesAny(stderr, retryablePhrases) {
		return shiperr.ClassRetryable
	}
	return shiperr.ClassAmbiguous
}

func matchesAny(haystack string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}
