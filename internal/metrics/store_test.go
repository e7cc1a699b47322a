package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

func TestStoreQueueRecorder(t *testing.T) {
	store := NewStore()
	rec := store.QueueRecorder()

	rec.ObserveQueueDepth(5)
	rec.IncQueueDrops()
	rec.IncQueueDrops()

	snap := store.Snapshot()
	if snap.QueueDepth != 5 {
		t.Fatalf("expected depth 5 got %d", snap.QueueDepth)
	}
	if got := testutil.ToFloat64(store.queueDrops); got != 2 {
		t.Fatalf("expected drops 2 got %f", got)
	}
}

func TestStoreAcquisitionRecorder(t *testing.T) {
	store := NewStore()
	rec := store.AcquisitionRecorder()
	now := time.Unix(1700000000, 0).UTC()

	rec.ObservePoll(0, now)
	rec.ObservePoll(3, now.Add(time.Second))
	rec.ObserveSample(types.Sample{Timestamp: now.Add(time.Second), Epoch: 1700000001, Hz: 10e6, Frequency: "1e+07"})
	rec.IncPollErrors("sample")

	if got := testutil.ToFloat64(store.emptyPolls); got != 1 {
		t.Fatalf("expected 1 empty poll got %f", got)
	}
	if got := testutil.ToFloat64(store.pending); got != 3 {
		t.Fatalf("expected pending 3 got %f", got)
	}
	if got := testutil.ToFloat64(store.samples); got != 1 {
		t.Fatalf("expected 1 sample got %f", got)
	}
	if got := testutil.ToFloat64(store.lastFrequency); got != 10e6 {
		t.Fatalf("unexpected last frequency %f", got)
	}
	if got := testutil.ToFloat64(store.pollErrors.WithLabelValues("sample")); got != 1 {
		t.Fatalf("expected 1 sample error got %f", got)
	}

	snap := store.Snapshot()
	if !snap.LastPoll.Equal(now.Add(time.Second)) {
		t.Fatalf("unexpected last poll %s", snap.LastPoll)
	}
	if snap.LatestSample == nil || snap.LatestSample.Frequency != "1e+07" {
		t.Fatalf("unexpected latest sample %+v", snap.LatestSample)
	}
}

func TestStoreSinkRecorder(t *testing.T) {
	store := NewStore()
	rec := store.SinkRecorder()

	rec.ObserveSinkWrite("redis", 4, nil)
	rec.ObserveSinkWrite("redis", 2, errors.New("down"))

	if got := testutil.ToFloat64(store.sinkWrites.WithLabelValues("redis")); got != 4 {
		t.Fatalf("expected 4 writes got %f", got)
	}
	if got := testutil.ToFloat64(store.sinkErrors.WithLabelValues("redis")); got != 1 {
		t.Fatalf("expected 1 error got %f", got)
	}
}

func TestStoreReadinessTransitions(t *testing.T) {
	store := NewStore()

	store.ObserveReadiness(false, []ReadinessCategory{{Name: "NOT_CONFIGURED", Severity: "crit"}})
	store.ObserveReadiness(false, []ReadinessCategory{{Name: "NOT_CONFIGURED", Severity: "crit"}})
	store.ObserveReadiness(true, nil)

	if got := testutil.ToFloat64(store.transitions.WithLabelValues("not_ready")); got != 1 {
		t.Fatalf("expected 1 not_ready transition got %f", got)
	}
	if got := testutil.ToFloat64(store.transitions.WithLabelValues("ready")); got != 1 {
		t.Fatalf("expected 1 ready transition got %f", got)
	}
	if !store.Snapshot().Ready {
		t.Fatalf("expected ready snapshot")
	}
	if got := testutil.CollectAndCount(store.readyReasons); got != 0 {
		t.Fatalf("expected categories cleared once ready, got %d", got)
	}
}

func TestHTTPHandler(t *testing.T) {
	store := NewStore()
	store.QueueRecorder().ObserveQueueDepth(7)
	store.AcquisitionRecorder().ObserveSample(types.Sample{Hz: 5e6})

	srv := httptest.NewServer(NewHTTPHandler(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, fragment := range []string{
		"ag53230a_queue_depth_number 7",
		"ag53230a_samples_total 1",
		"ag53230a_last_frequency_hertz 5e+06",
	} {
		if !strings.Contains(string(body), fragment) {
			t.Fatalf("expected output to contain %q, got:\n%s", fragment, body)
		}
	}
}
