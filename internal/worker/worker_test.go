package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fleetops/patchflow/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nackCall struct {
	tag     uint64
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []nackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, nackCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) counts() (acks, nacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acks), len(f.nacks)
}

func (f *fakeAcknowledger) lastNack() nackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nacks[len(f.nacks)-1]
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	qosErr     error
	consumeErr error

	qosCount    int
	consumerTag string
}

func (f *fakeSource) Qos(prefetchCount int) error {
	f.qosCount = prefetchCount
	return f.qosErr
}

func (f *fakeSource) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumerTag = consumerTag
	return f.deliveries, nil
}

type scheduleCall struct {
	requests       []domain.PatchRequest
	maxConcurrency int
}

type fakeBatchScheduler struct {
	mu    sync.Mutex
	calls []scheduleCall
}

func (f *fakeBatchScheduler) Schedule(_ context.Context, requests []domain.PatchRequest, maxConcurrency int) *domain.BatchSummary {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, scheduleCall{requests: requests, maxConcurrency: maxConcurrency})

	return &domain.BatchSummary{
		TotalJobs:      len(requests),
		SuccessfulJobs: len(requests),
		ProcessingMode: domain.ProcessingModeBatch,
		Timestamp:      time.Now().UTC(),
	}
}

func (f *fakeBatchScheduler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestWorker(prefetch int) (*Worker, *fakeSource, *fakeBatchScheduler) {
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 8)}
	sched := &fakeBatchScheduler{}
	w := NewWorker(&Config{
		Logger:        testLogger(),
		Source:        source,
		Scheduler:     sched,
		PrefetchCount: prefetch,
	})
	return w, source, sched
}

func deliveryFor(t *testing.T, acker *fakeAcknowledger, tag uint64, message domain.BatchMessage) amqp.Delivery {
	t.Helper()

	body, err := json.Marshal(message)
	require.NoError(t, err)

	return amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  tag,
		Body:         body,
	}
}

func TestWorker_ProcessesBatchAndAcks(t *testing.T) {
	w, source, sched := newTestWorker(2)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	acker := &fakeAcknowledger{}
	source.deliveries <- deliveryFor(t, acker, 7, domain.BatchMessage{
		BatchID:        uuid.New().String(),
		MaxConcurrency: 3,
		PatchJobs: []domain.BatchMessageJob{
			{MachineName: "web-01", SoftwareName: "Google Chrome", Version: "120.0.6099.109"},
			{MachineName: "db-01", SoftwareName: "Mozilla Firefox", Version: "121.0", ResourceGroup: "rg-db"},
		},
	})

	require.Eventually(t, func() bool {
		acks, _ := acker.counts()
		return acks == 1
	}, 2*time.Second, 10*time.Millisecond, "delivery should be acked")

	require.Equal(t, 1, sched.callCount())
	call := sched.calls[0]
	assert.Equal(t, 3, call.maxConcurrency)
	require.Len(t, call.requests, 2)
	assert.Equal(t, "web-01", call.requests[0].MachineName)
	assert.Equal(t, "rg-db", call.requests[1].ResourceGroup)

	assert.Equal(t, 2, source.qosCount)
	assert.NotEmpty(t, source.consumerTag)
}

func TestWorker_NacksMalformedMessage(t *testing.T) {
	w, source, sched := newTestWorker(1)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	acker := &fakeAcknowledger{}
	source.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  1,
		Body:         []byte(`{"batch_id": broken`),
	}

	require.Eventually(t, func() bool {
		_, nacks := acker.counts()
		return nacks == 1
	}, 2*time.Second, 10*time.Millisecond, "malformed delivery should be nacked")

	assert.False(t, acker.lastNack().requeue, "malformed messages must not requeue")
	assert.Equal(t, 0, sched.callCount())
}

func TestWorker_NacksInvalidBatchID(t *testing.T) {
	w, source, sched := newTestWorker(1)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	acker := &fakeAcknowledger{}
	source.deliveries <- deliveryFor(t, acker, 2, domain.BatchMessage{
		BatchID: "not-a-uuid",
		PatchJobs: []domain.BatchMessageJob{
			{MachineName: "web-01", SoftwareName: "Google Chrome", Version: "1"},
		},
	})

	require.Eventually(t, func() bool {
		_, nacks := acker.counts()
		return nacks == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, acker.lastNack().requeue)
	assert.Equal(t, 0, sched.callCount())
}

func TestWorker_NacksEmptyBatch(t *testing.T) {
	w, source, sched := newTestWorker(1)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	acker := &fakeAcknowledger{}
	source.deliveries <- deliveryFor(t, acker, 3, domain.BatchMessage{
		BatchID:   uuid.New().String(),
		PatchJobs: nil,
	})

	require.Eventually(t, func() bool {
		_, nacks := acker.counts()
		return nacks == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, acker.lastNack().requeue)
	assert.Equal(t, 0, sched.callCount())
}

func TestWorker_ProcessesSequentially(t *testing.T) {
	w, source, sched := newTestWorker(1)

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	acker := &fakeAcknowledger{}
	for i := 0; i < 3; i++ {
		source.deliveries <- deliveryFor(t, acker, uint64(i+1), domain.BatchMessage{
			BatchID: uuid.New().String(),
			PatchJobs: []domain.BatchMessageJob{
				{MachineName: fmt.Sprintf("web-%02d", i), SoftwareName: "Google Chrome", Version: "1"},
			},
		})
	}

	require.Eventually(t, func() bool {
		acks, _ := acker.counts()
		return acks == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 3, sched.callCount())
}

func TestWorker_StartFailsWhenQosFails(t *testing.T) {
	w, source, _ := newTestWorker(1)
	source.qosErr = fmt.Errorf("channel closed")

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set up consumer")
}

func TestWorker_StartFailsWhenConsumeFails(t *testing.T) {
	w, source, _ := newTestWorker(1)
	source.consumeErr = fmt.Errorf("queue missing")

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set up consumer")
}

func TestWorker_StopsWhenDeliveryChannelCloses(t *testing.T) {
	w, source, _ := newTestWorker(1)

	require.NoError(t, w.Start(context.Background()))

	close(source.deliveries)

	// The consume loop must exit on its own; Stop then returns immediately.
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not exit after delivery channel closed")
	}
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	w, _, _ := newTestWorker(1)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume loop did not exit after context cancel")
	}
}
