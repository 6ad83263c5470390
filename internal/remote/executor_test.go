package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/patchflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stateStep struct {
	state *OperationState
	err   error
}

// fakeChannel records submissions and replays scripted operation states;
// the last state repeats once the script is exhausted.
type fakeChannel struct {
	mu sync.Mutex

	submitErr   error
	operationID string
	submitCalls int
	submitted   []string

	states      []stateStep
	statusCalls int
}

func (c *fakeChannel) SubmitCommand(_ context.Context, _ Target, _, script string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitCalls++
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submitted = append(c.submitted, script)
	return c.operationID, nil
}

func (c *fakeChannel) OperationStatus(_ context.Context, _ string) (*OperationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.statusCalls
	c.statusCalls++
	if i >= len(c.states) {
		i = len(c.states) - 1
	}
	s := c.states[i]
	return s.state, s.err
}

func (c *fakeChannel) counts() (submits, statuses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitCalls, c.statusCalls
}

func testTarget() Target {
	return Target{SubscriptionID: "sub-0001", ResourceGroup: "rg-app", Machine: "vm-01"}
}

func TestExecutor_Run_Succeeds(t *testing.T) {
	channel := &fakeChannel{
		operationID: "op-123",
		states: []stateStep{
			{state: &OperationState{Status: OperationInProgress}},
			{state: &OperationState{Status: OperationSucceeded, Output: "installed 120.0.6099.109"}},
		},
	}

	executor := NewExecutor(channel, time.Second, 5*time.Millisecond, time.Second, testLogger())

	outcome, err := executor.Run(context.Background(), testTarget(), "cmd-1",
		"install {{version}}", map[string]string{"version": "120.0.6099.109"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, outcome.Status)
	assert.Equal(t, "installed 120.0.6099.109", outcome.Output)
	assert.Equal(t, "op-123", outcome.OperationID)
	assert.Equal(t, "cmd-1", outcome.CommandID)

	submits, statuses := channel.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 2, statuses)
	assert.Equal(t, []string{"install 120.0.6099.109"}, channel.submitted)
}

func TestExecutor_Run_RemoteFailure(t *testing.T) {
	channel := &fakeChannel{
		operationID: "op-123",
		states: []stateStep{
			{state: &OperationState{Status: OperationFailed, Error: "exit code 1", Output: "partial log"}},
		},
	}

	executor := NewExecutor(channel, time.Second, 5*time.Millisecond, time.Second, testLogger())

	outcome, err := executor.Run(context.Background(), testTarget(), "cmd-1", "install", nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "exit code 1", outcome.Error)
	assert.Equal(t, "partial log", outcome.Output)
}

func TestExecutor_Submit_FailureIsFatalAndNotRetried(t *testing.T) {
	channel := &fakeChannel{submitErr: errors.New("machine unreachable")}

	executor := NewExecutor(channel, time.Second, 5*time.Millisecond, time.Second, testLogger())

	handle, err := executor.Submit(context.Background(), testTarget(), "cmd-1", "install", nil)
	require.Error(t, err)
	assert.Nil(t, handle)
	assert.Equal(t, domain.KindSubmission, domain.KindOf(err))

	submits, statuses := channel.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, 0, statuses)
}

func TestExecutor_Submit_RenderFailureNeverReachesChannel(t *testing.T) {
	channel := &fakeChannel{operationID: "op-123"}

	executor := NewExecutor(channel, time.Second, 5*time.Millisecond, time.Second, testLogger())

	_, err := executor.Submit(context.Background(), testTarget(), "cmd-1",
		"install {{version}}", map[string]string{"version": "$(reboot)"})
	require.Error(t, err)
	assert.Equal(t, domain.KindSubmission, domain.KindOf(err))

	submits, _ := channel.counts()
	assert.Equal(t, 0, submits)
}

func TestExecutor_Poll_TimesOutWithoutTerminalState(t *testing.T) {
	channel := &fakeChannel{
		operationID: "op-123",
		states: []stateStep{
			{state: &OperationState{Status: OperationInProgress}},
		},
	}

	pollInterval := 10 * time.Millisecond
	pollTimeout := 45 * time.Millisecond
	executor := NewExecutor(channel, time.Second, pollInterval, pollTimeout, testLogger())

	outcome, err := executor.Poll(context.Background(),
		&OperationHandle{CommandID: "cmd-1", OperationID: "op-123"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimedOut, outcome.Status)
	assert.Contains(t, outcome.Error, "did not reach a terminal state")

	// One check up front plus one per tick inside the window.
	_, statuses := channel.counts()
	assert.GreaterOrEqual(t, statuses, 2)
	assert.LessOrEqual(t, statuses, int(pollTimeout/pollInterval)+2)
}

func TestExecutor_Poll_AbsorbsTransientStatusErrors(t *testing.T) {
	channel := &fakeChannel{
		operationID: "op-123",
		states: []stateStep{
			{err: errors.New("status endpoint hiccup")},
			{state: &OperationState{Status: OperationSucceeded, Output: "done"}},
		},
	}

	executor := NewExecutor(channel, time.Second, 5*time.Millisecond, time.Second, testLogger())

	outcome, err := executor.Poll(context.Background(),
		&OperationHandle{CommandID: "cmd-1", OperationID: "op-123"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome.Status)

	_, statuses := channel.counts()
	assert.Equal(t, 2, statuses)
}

func TestExecutor_Poll_ContextCancelled(t *testing.T) {
	channel := &fakeChannel{
		operationID: "op-123",
		states: []stateStep{
			{state: &OperationState{Status: OperationInProgress}},
		},
	}

	executor := NewExecutor(channel, time.Second, 10*time.Millisecond, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := executor.Poll(ctx, &OperationHandle{CommandID: "cmd-1", OperationID: "op-123"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
