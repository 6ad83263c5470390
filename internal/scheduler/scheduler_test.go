package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fleetops/patchflow/internal/catalog"
	"github.com/fleetops/patchflow/internal/discovery"
	"github.com/fleetops/patchflow/internal/domain"
	"github.com/fleetops/patchflow/internal/remote"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type completion struct {
	status       string
	errorMessage string
	executionLog string
}

type fakeStore struct {
	mu               sync.Mutex
	created          []domain.PatchJob
	running          []string
	completed        map[string]completion
	createErr        error
	previousVersions map[string]string // keyed "machine|software"
	previousErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{completed: make(map[string]completion)}
}

func (f *fakeStore) CreateJob(_ context.Context, job *domain.PatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *job)
	return nil
}

func (f *fakeStore) MarkRunning(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = append(f.running, jobID)
	return nil
}

func (f *fakeStore) CompleteJob(_ context.Context, jobID, status, errorMessage, executionLog string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[jobID] = completion{status: status, errorMessage: errorMessage, executionLog: executionLog}
	return nil
}

func (f *fakeStore) PreviousVersion(_ context.Context, machineName, softwareName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.previousErr != nil {
		return "", f.previousErr
	}
	return f.previousVersions[machineName+"|"+softwareName], nil
}

func (f *fakeStore) completionOf(jobID string) (completion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.completed[jobID]
	return c, ok
}

type fakeScripts struct {
	entries map[string]*catalog.Entry
}

func (f *fakeScripts) Resolve(softwareName string) (*catalog.Entry, error) {
	entry, ok := f.entries[softwareName]
	if !ok {
		return nil, domain.NewError(domain.KindResolution, "resolve install script",
			fmt.Errorf("%w: %s", domain.ErrSoftwareNotFound, softwareName))
	}
	return entry, nil
}

type fakeRegistry struct {
	registry *discovery.Registry
	err      error
	calls    int32
}

func (f *fakeRegistry) FetchRegistry(_ context.Context) (*discovery.Registry, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.registry, f.err
}

type runCall struct {
	target    remote.Target
	commandID string
	script    string
	params    map[string]string
}

type fakeRunner struct {
	mu          sync.Mutex
	calls       []runCall
	outcomes    map[string]*remote.Outcome // keyed by machine, nil key means default
	err         error
	delay       time.Duration
	inFlight    int32
	maxInFlight int32
}

func (f *fakeRunner) Run(_ context.Context, target remote.Target, commandID, script string, params map[string]string) (*remote.Outcome, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	for {
		observed := atomic.LoadInt32(&f.maxInFlight)
		if current <= observed || atomic.CompareAndSwapInt32(&f.maxInFlight, observed, current) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, runCall{target: target, commandID: commandID, script: script, params: params})

	if f.err != nil {
		return nil, f.err
	}
	if outcome, ok := f.outcomes[target.Machine]; ok {
		return outcome, nil
	}
	return &remote.Outcome{Status: remote.OutcomeSucceeded, Output: "ok", CommandID: commandID}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func chromeEntry() *catalog.Entry {
	return &catalog.Entry{
		SoftwareName:   "Google Chrome",
		Vendor:         "Google",
		InstallCommand: "Install-GoogleChrome",
		Script:         "Install-GoogleChrome -Version {{version}} -Machine {{machine}}",
	}
}

func registryOf(names ...string) *discovery.Registry {
	machines := make([]discovery.MachineRecord, 0, len(names))
	for _, n := range names {
		machines = append(machines, discovery.MachineRecord{
			MachineName: n,
			ExecutionContext: discovery.ExecutionContext{
				SubscriptionID: "sub-0001",
				ResourceGroup:  "rg-app",
				Location:       "eu-west",
			},
		})
	}
	return discovery.NewRegistry(machines)
}

func newTestScheduler(store *fakeStore, scripts *fakeScripts, registry *fakeRegistry, runner *fakeRunner) *Scheduler {
	return New(&Config{
		Store:       store,
		Scripts:     scripts,
		Registry:    registry,
		Runner:      runner,
		SlicePacing: time.Millisecond,
		Logger:      testLogger(),
	})
}

func TestScheduler_Schedule_SingleRequestSucceeds(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "120.0.6099.109"},
	}, 5)

	assert.Equal(t, 1, summary.TotalJobs)
	assert.Equal(t, 1, summary.SuccessfulJobs)
	assert.Equal(t, 0, summary.FailedJobs)
	assert.Equal(t, domain.ProcessingModeSingle, summary.ProcessingMode)

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, domain.ResultSuccess, result.Status)
	assert.Equal(t, "vm-01", result.MachineName)
	assert.Equal(t, "rg-app", result.ResourceGroup)
	assert.NotEmpty(t, result.JobID)
	assert.NotEmpty(t, result.CommandID)
	assert.Equal(t, "ok", result.Output)

	// Exactly one submit+poll round trip.
	require.Equal(t, 1, runner.callCount())
	call := runner.calls[0]
	assert.Equal(t, "vm-01", call.target.Machine)
	assert.Equal(t, "sub-0001", call.target.SubscriptionID)
	assert.Equal(t, "120.0.6099.109", call.params["version"])

	// Lifecycle hit the store in order: Pending record, Running, Succeeded.
	require.Len(t, store.created, 1)
	assert.Equal(t, domain.JobStatusPending, store.created[0].Status)
	require.Len(t, store.running, 1)
	c, ok := store.completionOf(result.JobID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, c.status)
	assert.Equal(t, "ok", c.executionLog)
}

func TestScheduler_Schedule_JobRecordCarriesPreviousVersion(t *testing.T) {
	store := newFakeStore()
	store.previousVersions = map[string]string{
		"vm-01|Google Chrome": "119.0.6045.199",
	}
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "120.0.6099.109"},
	}, 1)

	assert.Equal(t, 1, summary.SuccessfulJobs)
	require.Len(t, store.created, 1)
	assert.Equal(t, "119.0.6045.199", store.created[0].PreviousVersion)
}

func TestScheduler_Schedule_PreviousVersionLookupFailureDoesNotFailJob(t *testing.T) {
	store := newFakeStore()
	store.previousErr = errors.New("inventory table missing")
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "120.0.6099.109"},
	}, 1)

	assert.Equal(t, 1, summary.SuccessfulJobs)
	require.Len(t, store.created, 1)
	assert.Empty(t, store.created[0].PreviousVersion)
}

func TestScheduler_Schedule_SummaryCountsAlwaysAddUp(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01", "vm-02", "vm-04")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	requests := []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1"},
		{MachineName: "vm-02", SoftwareName: "Google Chrome", Version: "1"},
		{MachineName: "vm-03", SoftwareName: "Google Chrome", Version: "1"}, // unresolvable
		{MachineName: "vm-04", SoftwareName: "Nonexistent App", Version: "1"},
	}

	summary := s.Schedule(context.Background(), requests, 2)

	assert.Equal(t, 4, summary.TotalJobs)
	assert.Equal(t, summary.TotalJobs, summary.SuccessfulJobs+summary.FailedJobs)
	assert.Equal(t, 2, summary.SuccessfulJobs)
	assert.Equal(t, 2, summary.FailedJobs)
	assert.Equal(t, domain.ProcessingModeBatch, summary.ProcessingMode)
}

func TestScheduler_Schedule_UnresolvableMachineNeverReachesRunner(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "ghost-99", SoftwareName: "Google Chrome", Version: "1"},
	}, 5)

	assert.Equal(t, 1, summary.FailedJobs)
	assert.Equal(t, 0, runner.callCount())

	result := summary.Results[0]
	assert.Equal(t, domain.ResultFailed, result.Status)
	assert.Contains(t, result.Error, "machine not found")
	assert.Contains(t, result.Error, "ghost-99")

	// The failed attempt still leaves an audit record in a terminal state.
	c, ok := store.completionOf(result.JobID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, c.status)
}

func TestScheduler_Schedule_CaseSensitiveRegistryResolution(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "VM-01", SoftwareName: "Google Chrome", Version: "1"},
	}, 5)

	assert.Equal(t, 1, summary.FailedJobs)
	assert.Equal(t, 0, runner.callCount())
}

func TestScheduler_Schedule_MixedBatchPartialFailure(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01", "vm-02")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	requests := []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1"},
		{MachineName: "vm-02", SoftwareName: "Google Chrome", Version: "1"},
		{MachineName: "ghost-99", SoftwareName: "Google Chrome", Version: "1"},
	}

	summary := s.Schedule(context.Background(), requests, 2)

	assert.Equal(t, 3, summary.TotalJobs)
	assert.Equal(t, 2, summary.SuccessfulJobs)
	assert.Equal(t, 1, summary.FailedJobs)

	// Results keep submission order regardless of completion order.
	require.Len(t, summary.Results, 3)
	assert.Equal(t, "vm-01", summary.Results[0].MachineName)
	assert.Equal(t, "vm-02", summary.Results[1].MachineName)
	assert.Equal(t, "ghost-99", summary.Results[2].MachineName)
	assert.Contains(t, summary.Results[2].Error, "machine not found")
}

func TestScheduler_Schedule_BoundsInFlightExecutions(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}

	names := make([]string, 0, 12)
	requests := make([]domain.PatchRequest, 0, 12)
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("vm-%02d", i)
		names = append(names, name)
		requests = append(requests, domain.PatchRequest{
			MachineName: name, SoftwareName: "Google Chrome", Version: "1",
		})
	}
	registry := &fakeRegistry{registry: registryOf(names...)}
	runner := &fakeRunner{delay: 15 * time.Millisecond}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), requests, 3)

	assert.Equal(t, 12, summary.SuccessfulJobs)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxInFlight), int32(3))
	assert.Equal(t, 12, runner.callCount())
}

func TestScheduler_Schedule_ExplicitResourceGroupSkipsRegistry(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{err: errors.New("registry must not be called")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1", ResourceGroup: "rg-custom"},
	}, 5)

	assert.Equal(t, 1, summary.SuccessfulJobs)
	assert.Equal(t, int32(0), atomic.LoadInt32(&registry.calls))

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "rg-custom", runner.calls[0].target.ResourceGroup)
}

func TestScheduler_Schedule_RegistryFailureFailsOnlyJobsNeedingResolution(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{err: domain.NewError(domain.KindDiscoveryUnavailable,
		"discovery query", errors.New("backend down"))}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1", ResourceGroup: "rg-app"},
		{MachineName: "vm-02", SoftwareName: "Google Chrome", Version: "1"},
	}, 5)

	assert.Equal(t, 1, summary.SuccessfulJobs)
	assert.Equal(t, 1, summary.FailedJobs)

	assert.Equal(t, domain.ResultSuccess, summary.Results[0].Status)
	assert.Equal(t, domain.ResultFailed, summary.Results[1].Status)
	assert.Contains(t, summary.Results[1].Error, "backend down")

	// Registry is fetched once per scheduling call, not per job.
	assert.Equal(t, int32(1), atomic.LoadInt32(&registry.calls))
}

func TestScheduler_Schedule_RemoteFailureAndTimeoutBecomeFailedJobs(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01", "vm-02")}
	runner := &fakeRunner{outcomes: map[string]*remote.Outcome{
		"vm-01": {Status: remote.OutcomeFailed, Error: "exit code 1", Output: "install log"},
		"vm-02": {Status: remote.OutcomeTimedOut, Error: "remote operation did not reach a terminal state within the poll window"},
	}}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1"},
		{MachineName: "vm-02", SoftwareName: "Google Chrome", Version: "1"},
	}, 5)

	assert.Equal(t, 0, summary.SuccessfulJobs)
	assert.Equal(t, 2, summary.FailedJobs)

	assert.Equal(t, "exit code 1", summary.Results[0].Error)
	assert.Contains(t, summary.Results[1].Error, "poll window")

	c, ok := store.completionOf(summary.Results[0].JobID)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusFailed, c.status)
	assert.Equal(t, "install log", c.executionLog)
}

func TestScheduler_Schedule_EmptyBatch(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{}}
	registry := &fakeRegistry{}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), nil, 5)

	assert.Equal(t, 0, summary.TotalJobs)
	assert.Equal(t, 0, summary.SuccessfulJobs)
	assert.Equal(t, 0, summary.FailedJobs)
	assert.Empty(t, summary.Results)
	assert.Equal(t, int32(0), atomic.LoadInt32(&registry.calls))
}

func TestScheduler_Schedule_DefaultsConcurrencyWhenUnset(t *testing.T) {
	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1"},
	}, 0)

	assert.Equal(t, 1, summary.SuccessfulJobs)
}

func TestScheduler_Schedule_ConfiguredDefaultBoundsConcurrency(t *testing.T) {
	names := []string{"vm-01", "vm-02", "vm-03", "vm-04", "vm-05", "vm-06"}

	store := newFakeStore()
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf(names...)}
	runner := &fakeRunner{delay: 20 * time.Millisecond}

	s := New(&Config{
		Store:                 store,
		Scripts:               scripts,
		Registry:              registry,
		Runner:                runner,
		DefaultMaxConcurrency: 2,
		SlicePacing:           time.Millisecond,
		Logger:                testLogger(),
	})

	requests := make([]domain.PatchRequest, 0, len(names))
	for _, n := range names {
		requests = append(requests, domain.PatchRequest{
			MachineName: n, SoftwareName: "Google Chrome", Version: "1",
		})
	}

	summary := s.Schedule(context.Background(), requests, 0)

	assert.Equal(t, 6, summary.SuccessfulJobs)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxInFlight), int32(2),
		"configured default should bound in-flight executions")
}

func TestScheduler_Schedule_StoreCreateFailureFailsJobWithoutExecution(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("database unavailable")
	scripts := &fakeScripts{entries: map[string]*catalog.Entry{"Google Chrome": chromeEntry()}}
	registry := &fakeRegistry{registry: registryOf("vm-01")}
	runner := &fakeRunner{}

	s := newTestScheduler(store, scripts, registry, runner)

	summary := s.Schedule(context.Background(), []domain.PatchRequest{
		{MachineName: "vm-01", SoftwareName: "Google Chrome", Version: "1"},
	}, 5)

	assert.Equal(t, 1, summary.FailedJobs)
	assert.Contains(t, summary.Results[0].Error, "database unavailable")
	assert.Equal(t, 0, runner.callCount())
}
