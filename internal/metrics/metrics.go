package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	engineName   = "engine_name"
	processName  = "process_name"
	activityName = "activity_name"
	status       = "status"
)

var (
	// ProcessStates reflects the lifecycle states of all the background
	// processes that form part of the engine.
	ProcessStates = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "durable_process_states",
		Help: "The current states of all the engine processes",
	}, []string{engineName, processName})

	// ActivityLatency is how long a single activity invocation takes.
	ActivityLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "durable_activity_latency_seconds",
		Help:    "Activity execution latency in seconds",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 60, 300},
	}, []string{engineName, activityName})

	// ActivityErrors is the number of failed activity invocations.
	ActivityErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_activity_error_count",
		Help: "Number of activity invocations that returned an error",
	}, []string{engineName, activityName})

	// InstancesStarted is the number of orchestration instances started.
	InstancesStarted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_instances_started_count",
		Help: "Number of orchestration instances started",
	}, []string{engineName})

	// InstancesFinished is the number of instances that reached a terminal
	// status, labelled by that status.
	InstancesFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "durable_instances_finished_count",
		Help: "Number of orchestration instances that reached a terminal status",
	}, []string{engineName, status})
)

func init() {
	prometheus.MustRegister(
		ProcessStates,
		ActivityLatency,
		ActivityErrors,
		InstancesStarted,
		InstancesFinished,
	)
}

func Reset() {
	ProcessStates.Reset()
	ActivityLatency.Reset()
	ActivityErrors.Reset()
	InstancesStarted.Reset()
	InstancesFinished.Reset()
}
