package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sicko7947/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shared behaviour checks run against every backend

var suiteTime = time.UnixMilli(1700000000000).UTC()

func suiteRun(id, workflow string, status world.RunStatus) *world.Run {
	return &world.Run{
		RunID:        id,
		WorkflowName: workflow,
		DeploymentID: "dep",
		Status:       status,
		Input:        []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"two"`)},
		CreatedAt:    suiteTime,
		UpdatedAt:    suiteTime,
	}
}

func ids[T any](rows []*T, idOf func(*T) string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, idOf(r))
	}
	return out
}

func runID(r *world.Run) string { return r.RunID }

func testRowStore(t *testing.T, newStore func(t *testing.T) world.RowStore) {
	ctx := context.Background()

	t.Run("run insert and get", func(t *testing.T) {
		s := newStore(t)
		run := suiteRun("wrun_a", "wf", world.RunStatusPending)
		run.Output = json.RawMessage(`{"ok":true}`)
		run.Error = &world.RunError{Message: "m", Code: "c"}
		run.StartedAt = world.ToPtr(suiteTime.Add(time.Second))
		require.NoError(t, s.InsertRun(ctx, run))

		got, err := s.GetRun(ctx, "wrun_a")
		require.NoError(t, err)
		assert.Equal(t, run.WorkflowName, got.WorkflowName)
		assert.Equal(t, run.Status, got.Status)
		require.Len(t, got.Input, 2)
		assert.JSONEq(t, `"two"`, string(got.Input[1]))
		assert.JSONEq(t, `{"ok":true}`, string(got.Output))
		require.NotNil(t, got.Error)
		assert.Equal(t, "m", got.Error.Message)
		require.NotNil(t, got.StartedAt)
		assert.True(t, got.StartedAt.Equal(*run.StartedAt))
		assert.Nil(t, got.CompletedAt)
		assert.True(t, got.CreatedAt.Equal(suiteTime))

		_, err = s.GetRun(ctx, "wrun_missing")
		assert.True(t, world.IsNotFound(err))
	})

	t.Run("run duplicate id conflicts and keeps the original", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertRun(ctx, suiteRun("wrun_a", "first", world.RunStatusPending)))

		err := s.InsertRun(ctx, suiteRun("wrun_a", "second", world.RunStatusRunning))
		assert.True(t, world.IsConflict(err), "got %v", err)

		got, err := s.GetRun(ctx, "wrun_a")
		require.NoError(t, err)
		assert.Equal(t, "first", got.WorkflowName)
		assert.Equal(t, world.RunStatusPending, got.Status)
	})

	t.Run("run conditional update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertRun(ctx, suiteRun("wrun_a", "wf", world.RunStatusRunning)))

		update := suiteRun("wrun_a", "wf", world.RunStatusRunning)
		update.Output = json.RawMessage(`"x"`)
		err := s.UpdateRun(ctx, update, world.RunStatusPaused)
		assert.True(t, world.IsNotFound(err), "got %v", err)

		got, err := s.GetRun(ctx, "wrun_a")
		require.NoError(t, err)
		assert.Nil(t, got.Output, "failed conditional update must not write")

		require.NoError(t, s.UpdateRun(ctx, update, world.RunStatusRunning))
		require.NoError(t, s.UpdateRun(ctx, update, ""))

		err = s.UpdateRun(ctx, suiteRun("wrun_missing", "wf", world.RunStatusRunning), "")
		assert.True(t, world.IsNotFound(err))
	})

	t.Run("run query order filter and cursor", func(t *testing.T) {
		s := newStore(t)
		for i, status := range []world.RunStatus{
			world.RunStatusPending, world.RunStatusRunning, world.RunStatusPending,
			world.RunStatusCompleted, world.RunStatusPending,
		} {
			wf := "a"
			if i%2 == 1 {
				wf = "b"
			}
			require.NoError(t, s.InsertRun(ctx, suiteRun(fmt.Sprintf("wrun_%d", i), wf, status)))
		}

		all, err := s.QueryRuns(ctx, world.RunQuery{Page: world.PageQuery{Order: world.SortAsc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wrun_0", "wrun_1", "wrun_2", "wrun_3", "wrun_4"}, ids(all, runID))

		desc, err := s.QueryRuns(ctx, world.RunQuery{Page: world.PageQuery{Limit: 2, Order: world.SortDesc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wrun_4", "wrun_3"}, ids(desc, runID))

		next, err := s.QueryRuns(ctx, world.RunQuery{Page: world.PageQuery{Limit: 2, Cursor: "wrun_3", Order: world.SortDesc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wrun_2", "wrun_1"}, ids(next, runID))

		after, err := s.QueryRuns(ctx, world.RunQuery{Page: world.PageQuery{Cursor: "wrun_2", Order: world.SortAsc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wrun_3", "wrun_4"}, ids(after, runID))

		pendingA, err := s.QueryRuns(ctx, world.RunQuery{
			RunFilter: world.RunFilter{WorkflowName: "a", Status: world.RunStatusPending},
			Page:      world.PageQuery{Order: world.SortAsc},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"wrun_0", "wrun_2", "wrun_4"}, ids(pendingA, runID))

		none, err := s.QueryRuns(ctx, world.RunQuery{RunFilter: world.RunFilter{WorkflowName: "zzz"}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("events by run and correlation", func(t *testing.T) {
		s := newStore(t)
		events := []*world.Event{
			{EventID: "wevt_1", RunID: "wrun_a", CorrelationID: "c1", EventType: "step_started", CreatedAt: suiteTime},
			{EventID: "wevt_2", RunID: "wrun_a", EventType: "run_started", EventData: json.RawMessage(`{"k":1}`), CreatedAt: suiteTime},
			{EventID: "wevt_3", RunID: "wrun_b", CorrelationID: "c1", EventType: "step_completed", CreatedAt: suiteTime},
		}
		for _, e := range events {
			require.NoError(t, s.InsertEvent(ctx, e))
		}
		assert.True(t, world.IsConflict(s.InsertEvent(ctx, events[0])))

		got, err := s.GetEvent(ctx, "wevt_2")
		require.NoError(t, err)
		assert.JSONEq(t, `{"k":1}`, string(got.EventData))
		assert.Empty(t, got.CorrelationID)

		byRun, err := s.QueryEvents(ctx, world.EventQuery{EventFilter: world.EventFilter{RunID: "wrun_a"}, Page: world.PageQuery{Order: world.SortAsc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wevt_1", "wevt_2"}, ids(byRun, func(e *world.Event) string { return e.EventID }))

		byCorr, err := s.QueryEvents(ctx, world.EventQuery{EventFilter: world.EventFilter{CorrelationID: "c1"}, Page: world.PageQuery{Order: world.SortDesc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"wevt_3", "wevt_1"}, ids(byCorr, func(e *world.Event) string { return e.EventID }))
	})

	t.Run("steps", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"step_2", "step_1", "step_3"} {
			require.NoError(t, s.InsertStep(ctx, &world.Step{
				StepID: id, RunID: "wrun_a", StepName: "n", Status: world.StepStatusPending,
				Attempt: 1, CreatedAt: suiteTime, UpdatedAt: suiteTime,
			}))
		}
		require.NoError(t, s.InsertStep(ctx, &world.Step{
			StepID: "step_9", RunID: "wrun_b", StepName: "n", Status: world.StepStatusPending,
			Attempt: 1, CreatedAt: suiteTime, UpdatedAt: suiteTime,
		}))

		step, err := s.GetStep(ctx, "step_1")
		require.NoError(t, err)
		step.Status = world.StepStatusFailed
		step.Attempt = 2
		step.Error = world.ToPtr("boom")
		step.ErrorCode = world.ToPtr("E_BOOM")
		step.CompletedAt = world.ToPtr(suiteTime.Add(time.Minute))
		require.NoError(t, s.UpdateStep(ctx, step))

		got, err := s.GetStep(ctx, "step_1")
		require.NoError(t, err)
		assert.Equal(t, world.StepStatusFailed, got.Status)
		assert.Equal(t, 2, got.Attempt)
		require.NotNil(t, got.Error)
		assert.Equal(t, "boom", *got.Error)
		require.NotNil(t, got.ErrorCode)
		assert.Equal(t, "E_BOOM", *got.ErrorCode)
		assert.Nil(t, got.Input)

		missing := *step
		missing.StepID = "step_missing"
		assert.True(t, world.IsNotFound(s.UpdateStep(ctx, &missing)))

		list, err := s.QuerySteps(ctx, world.StepQuery{StepFilter: world.StepFilter{RunID: "wrun_a"}, Page: world.PageQuery{Limit: 2, Order: world.SortAsc}})
		require.NoError(t, err)
		assert.Equal(t, []string{"step_1", "step_2"}, ids(list, func(s *world.Step) string { return s.StepID }))
	})

	t.Run("hooks", func(t *testing.T) {
		s := newStore(t)
		hook := &world.Hook{HookID: "whook_1", RunID: "wrun_a", Token: "tok", OwnerID: "o", ProjectID: "p", Environment: "e", CreatedAt: suiteTime}
		require.NoError(t, s.InsertHook(ctx, hook))

		dupID := *hook
		dupID.Token = "other"
		err := s.InsertHook(ctx, &dupID)
		require.True(t, world.IsConflict(err))
		assert.Equal(t, "hook", world.From(err).Entity)

		dupToken := *hook
		dupToken.HookID = "whook_2"
		err = s.InsertHook(ctx, &dupToken)
		require.True(t, world.IsConflict(err))
		assert.Equal(t, "hook token", world.From(err).Entity)

		_, err = s.GetHook(ctx, "whook_2")
		assert.True(t, world.IsNotFound(err), "rejected hook must not be stored")
		_, err = s.GetHookByToken(ctx, "other")
		assert.True(t, world.IsNotFound(err), "rejected token must not be bound")

		byToken, err := s.GetHookByToken(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, "whook_1", byToken.HookID)

		require.NoError(t, s.InsertHook(ctx, &world.Hook{HookID: "whook_3", RunID: "wrun_b", Token: "tok3", CreatedAt: suiteTime}))

		all, err := s.QueryHooks(ctx, world.HookQuery{Page: world.PageQuery{Order: world.SortAsc}})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		forRun, err := s.QueryHooks(ctx, world.HookQuery{HookFilter: world.HookFilter{RunID: "wrun_b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"whook_3"}, ids(forRun, func(h *world.Hook) string { return h.HookID }))
	})
}

// fakeClock is a settable clock shared by lane tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLaneTransport(t *testing.T, newLane func(t *testing.T, clock *fakeClock) world.LaneTransport) {
	ctx := context.Background()

	t.Run("publish receive ack", func(t *testing.T) {
		clock := &fakeClock{now: suiteTime}
		lane := newLane(t, clock)

		for _, id := range []string{"msg_1", "msg_2", "msg_3"} {
			require.NoError(t, lane.Publish(ctx, world.OutboundMessage{ID: id, Body: []byte(id)}))
		}
		// Duplicate publish is ignored
		require.NoError(t, lane.Publish(ctx, world.OutboundMessage{ID: "msg_1", Body: []byte("dup")}))

		batch, err := lane.Receive(ctx, 2)
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, "msg_1", batch[0].Receipt)
		assert.Equal(t, []byte("msg_1"), batch[0].Body)
		assert.Equal(t, 1, batch[0].Attempt)

		rest, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "msg_3", rest[0].Receipt)

		for _, d := range append(batch, rest...) {
			require.NoError(t, lane.Ack(ctx, d.Receipt))
		}
		assert.True(t, world.IsNotFound(lane.Ack(ctx, "msg_1")))

		clock.Advance(time.Hour)
		empty, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("retry and visibility timeout redeliver", func(t *testing.T) {
		clock := &fakeClock{now: suiteTime}
		lane := newLane(t, clock)
		require.NoError(t, lane.Publish(ctx, world.OutboundMessage{ID: "msg_r", Body: []byte("r")}))
		require.NoError(t, lane.Publish(ctx, world.OutboundMessage{ID: "msg_v", Body: []byte("v")}))

		batch, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, batch, 2)
		require.NoError(t, lane.Retry(ctx, "msg_r", 5*time.Second))

		// Neither is visible yet
		empty, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)

		clock.Advance(5 * time.Second)
		retried, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, retried, 1)
		assert.Equal(t, "msg_r", retried[0].Receipt)
		assert.Equal(t, 2, retried[0].Attempt)

		clock.Advance(DefaultVisibilityTimeout)
		expired, err := lane.Receive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, expired, 2)
		for _, d := range expired {
			if d.Receipt == "msg_v" {
				assert.Equal(t, 2, d.Attempt)
			}
		}

		assert.True(t, world.IsNotFound(lane.Retry(ctx, "msg_unknown", time.Second)))
	})
}

func testBlobStore(t *testing.T, newBlobs func(t *testing.T) world.BlobStore) {
	ctx := context.Background()
	blobs := newBlobs(t)

	_, err := blobs.Get(ctx, "missing")
	assert.True(t, world.IsNotFound(err))

	require.NoError(t, blobs.Put(ctx, "streams/a/meta", []byte("1")))
	require.NoError(t, blobs.Put(ctx, "streams/a/meta", []byte("2")))
	require.NoError(t, blobs.Put(ctx, "streams/a/chunks/0000000001", []byte{0x00, 0xff}))
	require.NoError(t, blobs.Put(ctx, "streams/a/chunks/0000000000", []byte{}))
	require.NoError(t, blobs.Put(ctx, "streams/A/meta", []byte("upper")))
	require.NoError(t, blobs.Put(ctx, "streams/a_b/meta", []byte("x")))

	data, err := blobs.Get(ctx, "streams/a/meta")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), data)

	binary, err := blobs.Get(ctx, "streams/a/chunks/0000000001")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, binary)

	empty, err := blobs.Get(ctx, "streams/a/chunks/0000000000")
	require.NoError(t, err)
	assert.Empty(t, empty)

	keys, err := blobs.List(ctx, "streams/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"streams/a/chunks/0000000000",
		"streams/a/chunks/0000000001",
		"streams/a/meta",
	}, keys)

	all, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
