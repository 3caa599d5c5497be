package metrics

import "testing"

func TestRecordingBeforeInitDoesNotPanic(t *testing.T) {
	promMetrics = nil
	RecordOperation("get_movie", "ok", 1.5)
	RecordFailure("get_movie", "runtime_error")
	SessionStarted()
	SessionFinished()
	WorkerStarted()
	WorkerStopped()
	Enqueued()
	EnqueueRetried()
	EnqueueRejected()
	RecordParseError("malformed_key")
	if PrometheusRegistry() != nil {
		t.Fatal("expected nil registry before InitPrometheus")
	}
}

func TestInitPrometheusRegistersCollectors(t *testing.T) {
	InitPrometheus("moviedb_test", nil, func() float64 { return 3 })
	defer func() { promMetrics = nil }()

	RecordOperation("register_movie", "ok", 4.2)
	RecordFailure("register_movie", "user_error")

	families, err := PrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
