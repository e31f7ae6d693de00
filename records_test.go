package world_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sicko7947/world"
	"github.com/sicko7947/world/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRecords(t *testing.T) (*world.Records, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	records := world.NewRecords(store.NewMemoryStore(),
		world.WithLogger(zerolog.Nop()),
		world.WithClock(clock.Now),
	)
	return records, clock
}

func TestRecords_CreateRun(t *testing.T) {
	ctx := context.Background()
	records, clock := newTestRecords(t)

	run, err := records.CreateRun(ctx, world.CreateRunRequest{
		WorkflowName: "order",
		DeploymentID: "dep_1",
		Input:        []json.RawMessage{json.RawMessage(`{"sku":"abc"}`)},
	})
	require.NoError(t, err)

	assert.Equal(t, world.PrefixRun, world.PrefixOf(run.RunID))
	assert.Equal(t, world.RunStatusPending, run.Status)
	assert.Equal(t, clock.Now(), run.CreatedAt)
	assert.Equal(t, run.CreatedAt, run.UpdatedAt)
	assert.Nil(t, run.StartedAt)
	assert.Nil(t, run.CompletedAt)

	loaded, err := records.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run, loaded)
}

func TestRecords_CreateRun_Validation(t *testing.T) {
	records, _ := newTestRecords(t)

	_, err := records.CreateRun(context.Background(), world.CreateRunRequest{DeploymentID: "dep"})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_CreateRun_EmptyInput(t *testing.T) {
	records, _ := newTestRecords(t)

	run, err := records.CreateRun(context.Background(), world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)
	assert.NotNil(t, run.Input)
	assert.Empty(t, run.Input)
}

func TestRecords_CreateRun_DuplicateID(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	original, err := records.CreateRun(ctx, world.CreateRunRequest{RunID: "wrun_fixed", WorkflowName: "first"})
	require.NoError(t, err)

	_, err = records.CreateRun(ctx, world.CreateRunRequest{RunID: "wrun_fixed", WorkflowName: "second"})
	assert.True(t, world.IsConflict(err))

	loaded, err := records.GetRun(ctx, "wrun_fixed")
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestRecords_UpdateRun_Timestamps(t *testing.T) {
	ctx := context.Background()
	records, clock := newTestRecords(t)

	run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	running, err := records.UpdateRun(ctx, run.RunID, world.RunUpdate{Status: world.ToPtr(world.RunStatusRunning)})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	startedAt := *running.StartedAt
	assert.Equal(t, clock.Now(), startedAt)

	// Pause and resume do not move startedAt
	clock.Advance(time.Second)
	_, err = records.PauseRun(ctx, run.RunID)
	require.NoError(t, err)
	clock.Advance(time.Second)
	resumed, err := records.ResumeRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, startedAt, *resumed.StartedAt)

	clock.Advance(time.Second)
	done, err := records.UpdateRun(ctx, run.RunID, world.RunUpdate{
		Status: world.ToPtr(world.RunStatusCompleted),
		Output: json.RawMessage(`{"ok":true}`),
	})
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	completedAt := *done.CompletedAt
	assert.JSONEq(t, `{"ok":true}`, string(done.Output))

	clock.Advance(time.Second)
	again, err := records.UpdateRun(ctx, run.RunID, world.RunUpdate{Status: world.ToPtr(world.RunStatusFailed)})
	require.NoError(t, err)
	assert.Equal(t, completedAt, *again.CompletedAt)
	assert.Equal(t, startedAt, *again.StartedAt)
	assert.Equal(t, clock.Now(), again.UpdatedAt)
	assert.JSONEq(t, `{"ok":true}`, string(again.Output))
}

func TestRecords_UpdateRun_Errors(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	_, err := records.UpdateRun(ctx, "wrun_missing", world.RunUpdate{Status: world.ToPtr(world.RunStatusRunning)})
	assert.True(t, world.IsNotFound(err))

	run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)
	_, err = records.UpdateRun(ctx, run.RunID, world.RunUpdate{Status: world.ToPtr(world.RunStatus("bogus"))})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_CancelRun(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)

	cancelled, err := records.CancelRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, world.RunStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
}

func TestRecords_ResumeRun_RequiresPaused(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)
	_, err = records.UpdateRun(ctx, run.RunID, world.RunUpdate{Status: world.ToPtr(world.RunStatusCompleted)})
	require.NoError(t, err)
	before, err := records.GetRun(ctx, run.RunID)
	require.NoError(t, err)

	_, err = records.ResumeRun(ctx, run.RunID)
	assert.True(t, world.IsNotFound(err))

	after, err := records.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = records.ResumeRun(ctx, "wrun_missing")
	assert.True(t, world.IsNotFound(err))
}

func TestRecords_PauseRun_FromAnyStatus(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)
	_, err = records.CancelRun(ctx, run.RunID)
	require.NoError(t, err)

	paused, err := records.PauseRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, world.RunStatusPaused, paused.Status)
}

func TestRecords_ListRuns_Pagination(t *testing.T) {
	ctx := context.Background()
	records, clock := newTestRecords(t)

	const n = 9
	var ids []string
	for i := 0; i < n; i++ {
		run, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
		require.NoError(t, err)
		ids = append(ids, run.RunID)
		clock.Advance(time.Millisecond)
	}
	asc := append([]string(nil), ids...)
	sort.Strings(asc)
	desc := append([]string(nil), asc...)
	sort.Sort(sort.Reverse(sort.StringSlice(desc)))

	for _, order := range []world.SortOrder{world.SortAsc, world.SortDesc} {
		want := asc
		if order == world.SortDesc {
			want = desc
		}
		for _, limit := range []int{1, n / 2, n, n + 1} {
			t.Run(fmt.Sprintf("%s/limit=%d", order, limit), func(t *testing.T) {
				var got []string
				params := world.ListParams{Limit: limit, SortOrder: order}
				for pages := 0; pages <= n+1; pages++ {
					page, err := records.ListRuns(ctx, world.RunFilter{}, params)
					require.NoError(t, err)
					assert.LessOrEqual(t, len(page.Data), limit)
					for _, run := range page.Data {
						got = append(got, run.RunID)
					}
					if !page.HasMore {
						break
					}
					require.NotNil(t, page.Cursor)
					assert.Equal(t, page.Data[len(page.Data)-1].RunID, *page.Cursor)
					params.Cursor = *page.Cursor
				}
				assert.Equal(t, want, got)
			})
		}
	}
}

func TestRecords_ListRuns_DefaultsNewestFirst(t *testing.T) {
	ctx := context.Background()
	records, clock := newTestRecords(t)

	first, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	second, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
	require.NoError(t, err)

	page, err := records.ListRuns(ctx, world.RunFilter{}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, second.RunID, page.Data[0].RunID)
	assert.Equal(t, first.RunID, page.Data[1].RunID)
	assert.False(t, page.HasMore)
}

func TestRecords_ListRuns_Filters(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	a, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "a"})
	require.NoError(t, err)
	_, err = records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "b"})
	require.NoError(t, err)
	_, err = records.CancelRun(ctx, a.RunID)
	require.NoError(t, err)

	page, err := records.ListRuns(ctx, world.RunFilter{WorkflowName: "a"}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, a.RunID, page.Data[0].RunID)

	page, err = records.ListRuns(ctx, world.RunFilter{Status: world.RunStatusPending}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "b", page.Data[0].WorkflowName)

	_, err = records.ListRuns(ctx, world.RunFilter{Status: "bogus"}, world.ListParams{})
	assert.True(t, world.IsInvalidArgument(err))

	_, err = records.ListRuns(ctx, world.RunFilter{}, world.ListParams{SortOrder: "up"})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_ListRuns_Empty(t *testing.T) {
	records, _ := newTestRecords(t)

	page, err := records.ListRuns(context.Background(), world.RunFilter{}, world.ListParams{})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Nil(t, page.Cursor)
	assert.False(t, page.HasMore)
}

func TestRecords_Events(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	var created []string
	for i, corr := range []string{"c1", "", "c1"} {
		event, err := records.CreateEvent(ctx, world.CreateEventRequest{
			RunID:         "wrun_1",
			CorrelationID: corr,
			EventType:     fmt.Sprintf("type_%d", i),
			EventData:     json.RawMessage(`{"n":1}`),
		})
		require.NoError(t, err)
		assert.Equal(t, world.PrefixEvent, world.PrefixOf(event.EventID))
		created = append(created, event.EventID)
	}

	page, err := records.ListEvents(ctx, world.EventFilter{RunID: "wrun_1"}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	for i, event := range page.Data {
		assert.Equal(t, created[i], event.EventID)
	}

	page, err = records.ListEvents(ctx, world.EventFilter{CorrelationID: "c1"}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, created[0], page.Data[0].EventID)
	assert.Equal(t, created[2], page.Data[1].EventID)

	loaded, err := records.GetEvent(ctx, created[1])
	require.NoError(t, err)
	assert.Equal(t, "type_1", loaded.EventType)

	_, err = records.ListEvents(ctx, world.EventFilter{}, world.ListParams{})
	assert.True(t, world.IsInvalidArgument(err))

	_, err = records.CreateEvent(ctx, world.CreateEventRequest{RunID: "wrun_1"})
	assert.True(t, world.IsInvalidArgument(err))
	_, err = records.CreateEvent(ctx, world.CreateEventRequest{EventType: "x"})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_Steps(t *testing.T) {
	ctx := context.Background()
	records, clock := newTestRecords(t)

	step, err := records.CreateStep(ctx, world.CreateStepRequest{RunID: "wrun_1", StepName: "charge"})
	require.NoError(t, err)
	assert.Equal(t, world.StepStatusPending, step.Status)
	assert.Equal(t, 1, step.Attempt)
	assert.Equal(t, world.PrefixStep, world.PrefixOf(step.StepID))

	clock.Advance(time.Second)
	running, err := records.UpdateStep(ctx, step.StepID, world.StepUpdate{Status: world.ToPtr(world.StepStatusRunning)})
	require.NoError(t, err)
	require.NotNil(t, running.StartedAt)
	startedAt := *running.StartedAt

	clock.Advance(time.Second)
	retried, err := records.UpdateStep(ctx, step.StepID, world.StepUpdate{
		Status:    world.ToPtr(world.StepStatusRunning),
		Attempt:   world.ToPtr(2),
		Error:     world.ToPtr("card declined"),
		ErrorCode: world.ToPtr("DECLINED"),
	})
	require.NoError(t, err)
	assert.Equal(t, startedAt, *retried.StartedAt)
	assert.Equal(t, 2, retried.Attempt)
	assert.Equal(t, "DECLINED", *retried.ErrorCode)

	done, err := records.UpdateStep(ctx, step.StepID, world.StepUpdate{
		Status: world.ToPtr(world.StepStatusCompleted),
		Output: json.RawMessage(`"ok"`),
	})
	require.NoError(t, err)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, "card declined", *done.Error)

	_, err = records.UpdateStep(ctx, step.StepID, world.StepUpdate{Attempt: world.ToPtr(0)})
	assert.True(t, world.IsInvalidArgument(err))
	_, err = records.UpdateStep(ctx, step.StepID, world.StepUpdate{Status: world.ToPtr(world.StepStatus("x"))})
	assert.True(t, world.IsInvalidArgument(err))
	_, err = records.UpdateStep(ctx, "step_missing", world.StepUpdate{})
	assert.True(t, world.IsNotFound(err))

	_, err = records.CreateStep(ctx, world.CreateStepRequest{RunID: "wrun_1", StepName: "refund"})
	require.NoError(t, err)
	_, err = records.CreateStep(ctx, world.CreateStepRequest{RunID: "wrun_2", StepName: "other"})
	require.NoError(t, err)

	page, err := records.ListSteps(ctx, world.StepFilter{RunID: "wrun_1"}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, step.StepID, page.Data[0].StepID)

	_, err = records.ListSteps(ctx, world.StepFilter{}, world.ListParams{})
	assert.True(t, world.IsInvalidArgument(err))
	_, err = records.CreateStep(ctx, world.CreateStepRequest{RunID: "wrun_1"})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_Hooks(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	hook, err := records.CreateHook(ctx, world.CreateHookRequest{
		RunID:    "wrun_1",
		Token:    "tok_a",
		OwnerID:  "owner",
		Metadata: json.RawMessage(`{"k":"v"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, world.PrefixHook, world.PrefixOf(hook.HookID))

	byToken, err := records.GetHookByToken(ctx, "tok_a")
	require.NoError(t, err)
	assert.Equal(t, hook, byToken)

	_, err = records.CreateHook(ctx, world.CreateHookRequest{RunID: "wrun_2", Token: "tok_a"})
	assert.True(t, world.IsConflict(err))

	_, err = records.GetHookByToken(ctx, "tok_missing")
	assert.True(t, world.IsNotFound(err))

	_, err = records.CreateHook(ctx, world.CreateHookRequest{RunID: "wrun_2", Token: "tok_b"})
	require.NoError(t, err)

	all, err := records.ListHooks(ctx, world.HookFilter{}, world.ListParams{})
	require.NoError(t, err)
	assert.Len(t, all.Data, 2)

	mine, err := records.ListHooks(ctx, world.HookFilter{RunID: "wrun_1"}, world.ListParams{})
	require.NoError(t, err)
	require.Len(t, mine.Data, 1)
	assert.Equal(t, hook.HookID, mine.Data[0].HookID)

	loaded, err := records.GetHook(ctx, hook.HookID)
	require.NoError(t, err)
	assert.Equal(t, "owner", loaded.OwnerID)

	_, err = records.CreateHook(ctx, world.CreateHookRequest{RunID: "wrun_1"})
	assert.True(t, world.IsInvalidArgument(err))
}

func TestRecords_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	records, _ := newTestRecords(t)

	const writers = 16
	var conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := records.CreateHook(ctx, world.CreateHookRequest{RunID: fmt.Sprintf("wrun_%d", i), Token: "shared"})
			if world.IsConflict(err) {
				conflicts.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(writers-1), conflicts.Load())

	// Generated ids never collide across goroutines
	var runs errgroup.Group
	for i := 0; i < writers; i++ {
		runs.Go(func() error {
			_, err := records.CreateRun(ctx, world.CreateRunRequest{WorkflowName: "w"})
			return err
		})
	}
	require.NoError(t, runs.Wait())

	page, err := records.ListRuns(ctx, world.RunFilter{}, world.ListParams{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page.Data, writers)
}
