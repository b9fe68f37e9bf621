package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "sanity"
)

var (
	Debug                bool = true
	validResults              = []string{"passed", "failed", "error"}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of completed runs",
	}, []string{
		"result",
	})

	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "attempts_total",
		Help:      "Count of engine attempts, retries included",
	})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "retries_total",
		Help:      "Count of retried attempts",
	})

	testFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_files_total",
		Help:      "Count of test files by final result",
	}, []string{
		"test_name",
		"result",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of a run, workspace setup to alert dispatch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	lastRunFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "last_run_failed",
		Help:      "Number of failed test cases in the most recent run",
	})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "alerts_total",
		Help:      "Count of alert deliveries",
	}, []string{
		"channel",
		"action",
		"result",
	})

	artifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "artifacts_total",
		Help:      "Count of captured artifacts",
	}, []string{
		"result",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordAttempt counts one engine attempt. Attempt 0 is the first try.
func RecordAttempt(attempt int) {
	attemptsTotal.Inc()
	if attempt > 0 {
		retriesTotal.Inc()
	}
}

// RecordTestFile records the final result of one test file.
func RecordTestFile(testName string, result string) {
	if !isValidResult(result) {
		log.Error("RecordTestFile - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_files_total",
			"test_name", testName,
			"result", result)
	}
	testFilesTotal.WithLabelValues(testName, result).Inc()
}

// RecordRun records a finished run.
func RecordRun(result string, failed int, duration time.Duration) {
	runsTotal.WithLabelValues(result).Inc()
	lastRunFailed.Set(float64(failed))
	runDuration.Observe(duration.Seconds())
}

// RecordAlert records one alert delivery attempt.
func RecordAlert(channel string, action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	alertsTotal.WithLabelValues(channel, action, result).Inc()
}

// RecordArtifact records one artifact capture.
func RecordArtifact(err error) {
	result := "uploaded"
	if err != nil {
		result = "error"
	}
	artifactsTotal.WithLabelValues(result).Inc()
}

func isValidResult(result string) bool {
	return slices.Contains(validResults, result)
}
