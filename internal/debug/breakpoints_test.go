package debug

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/debug/daptest"
)

func TestNormalizeURI(t *testing.T) {
	cwd, err := filepath.Abs(".")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"absolute path", "/src/app/main.go", "file:///src/app/main.go"},
		{"dot segments", "/src/app/../lib/./x.go", "file:///src/lib/x.go"},
		{"file uri", "file:///src//app/main.go", "file:///src/app/main.go"},
		{"other scheme", "untitled://buffer/1", "untitled://buffer/1"},
		{"relative path", "main.go", "file://" + filepath.ToSlash(filepath.Join(cwd, "main.go"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURI(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = NormalizeURI("")
	assert.Error(t, err)
}

func TestSourceFor(t *testing.T) {
	src := sourceFor("file:///src/app/main.go")
	assert.Equal(t, "/src/app/main.go", src.Path)
	assert.Equal(t, "main.go", src.Name)

	assert.Equal(t, "file:///src/app/main.go", PathURI("/src/app/main.go"))

	frame := StackFrame{Source: &dap.Source{Path: "/src/app/main.go"}}
	assert.Equal(t, "file:///src/app/main.go", frame.SourceURI())
	assert.Empty(t, (&StackFrame{Source: &dap.Source{SourceReference: 7}}).SourceURI())
}

func TestAddBreakpointIdempotent(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	a, err := m.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 10})
	require.NoError(t, err)
	b, err := m.AddBreakpoint(ctx, "file:///src/a.go", BreakpointSpec{Line: 10})
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, m.Breakpoints(), 1)
	assert.True(t, a.Enabled)

	_, err = m.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 0})
	assert.Error(t, err)
}

func TestBreakpointsOrderedByPosition(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	for _, line := range []int{30, 10, 20} {
		_, err := m.AddBreakpoint(ctx, "/src/b.go", BreakpointSpec{Line: line})
		require.NoError(t, err)
	}
	_, err := m.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 5})
	require.NoError(t, err)

	var got []string
	for _, bp := range m.Breakpoints() {
		got = append(got, filepath.Base(bp.URI)+":"+strconv.Itoa(bp.Line))
	}
	assert.Equal(t, []string{"a.go:5", "b.go:10", "b.go:20", "b.go:30"}, got)
	assert.Len(t, m.BreakpointsFor("/src/b.go"), 3)
}

func TestBreakpointNotFound(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	assert.ErrorIs(t, m.RemoveBreakpoint(ctx, 99), ErrBreakpointNotFound)
	_, err := m.UpdateBreakpoint(ctx, 99, BreakpointUpdate{})
	assert.ErrorIs(t, err, ErrBreakpointNotFound)
	assert.ErrorIs(t, m.ToggleBreakpointEnable(ctx, 99), ErrBreakpointNotFound)
	assert.ErrorIs(t, m.RemoveFunctionBreakpoint(ctx, 99), ErrBreakpointNotFound)
	_, ok := m.Breakpoint(99)
	assert.False(t, ok)
}

func TestToggleBreakpoint(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	exists, err := m.ToggleBreakpoint(ctx, "/src/a.go", 4, 0)
	require.NoError(t, err)
	assert.True(t, exists)
	require.Len(t, m.Breakpoints(), 1)

	id := m.Breakpoints()[0].ID
	require.NoError(t, m.ToggleBreakpointEnable(ctx, id))
	bp, ok := m.Breakpoint(id)
	require.True(t, ok)
	assert.False(t, bp.Enabled)

	exists, err = m.ToggleBreakpoint(ctx, "/src/a.go", 4, 0)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, m.Breakpoints())
}

func TestToggleBreakpointMatchesColumn(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	inline, err := m.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 4, Column: 9})
	require.NoError(t, err)

	exists, err := m.ToggleBreakpoint(ctx, "/src/a.go", 4, 0)
	require.NoError(t, err)
	assert.True(t, exists, "a column breakpoint does not occupy the whole line")
	require.Len(t, m.Breakpoints(), 2)

	exists, err = m.ToggleBreakpoint(ctx, "/src/a.go", 4, 9)
	require.NoError(t, err)
	assert.False(t, exists)
	_, ok := m.Breakpoint(inline.ID)
	assert.False(t, ok)
	require.Len(t, m.Breakpoints(), 1)
	assert.Equal(t, 0, m.Breakpoints()[0].Column)
}

func TestBreakpointChangeEvents(t *testing.T) {
	m := NewBreakpointManager()
	ctx := context.Background()

	var changes []BreakpointsChange
	m.OnDidChangeBreakpoints(func(c BreakpointsChange) { changes = append(changes, c) })

	bp, err := m.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 3})
	require.NoError(t, err)
	cond := "x > 1"
	_, err = m.UpdateBreakpoint(ctx, bp.ID, BreakpointUpdate{Condition: &cond})
	require.NoError(t, err)
	require.NoError(t, m.RemoveBreakpoint(ctx, bp.ID))

	require.Len(t, changes, 3)
	assert.Len(t, changes[0].Added, 1)
	assert.Len(t, changes[0].All, 1)
	require.Len(t, changes[1].Changed, 1)
	assert.Equal(t, "x > 1", changes[1].Changed[0].Condition)
	assert.Len(t, changes[2].Removed, 1)
	assert.Empty(t, changes[2].All)
}

func TestRemoveAll(t *testing.T) {
	m := newTestManager(t)
	s, adapter := startTestSession(t, m)
	ctx := context.Background()
	bps := m.Breakpoints()

	_, err := bps.AddBreakpoint(ctx, "/src/a.go", BreakpointSpec{Line: 1})
	require.NoError(t, err)
	_, err = bps.AddBreakpoint(ctx, "/src/b.go", BreakpointSpec{Line: 2})
	require.NoError(t, err)

	require.NoError(t, bps.RemoveAll(ctx))
	assert.Empty(t, bps.Breakpoints())

	reqs := adapter.RequestsFor("setBreakpoints")
	require.Len(t, reqs, 4)
	for _, req := range reqs[2:] {
		assert.JSONEq(t, `[]`, gjson.GetBytes(req.Arguments, "breakpoints").Raw)
	}
	assert.Equal(t, StateRunning, s.State())
}

func TestFullSetPushedOnEveryChange(t *testing.T) {
	m := newTestManager(t)
	_, adapter := startTestSession(t, m)
	ctx := context.Background()
	bps := m.Breakpoints()

	first, err := bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)
	_, err = bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 20, Condition: "i == 3"})
	require.NoError(t, err)
	require.NoError(t, bps.RemoveBreakpoint(ctx, first.ID))

	reqs := adapter.RequestsFor("setBreakpoints")
	require.Len(t, reqs, 3)
	assert.JSONEq(t, `[{"line":10}]`, gjson.GetBytes(reqs[0].Arguments, "breakpoints").Raw)
	assert.JSONEq(t, `[{"line":10},{"line":20,"condition":"i == 3"}]`, gjson.GetBytes(reqs[1].Arguments, "breakpoints").Raw)
	assert.JSONEq(t, `[{"line":20,"condition":"i == 3"}]`, gjson.GetBytes(reqs[2].Arguments, "breakpoints").Raw)
	for _, req := range reqs {
		assert.Equal(t, "/src/file.js", gjson.GetBytes(req.Arguments, "source.path").String())
	}
}

func TestDisabledBreakpointsAreOmitted(t *testing.T) {
	m := newTestManager(t)
	s, adapter := startTestSession(t, m)
	ctx := context.Background()
	bps := m.Breakpoints()

	ten, err := bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)
	twenty, err := bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 20})
	require.NoError(t, err)
	require.NoError(t, bps.SetEnabled(ctx, ten.ID, false))

	reqs := adapter.RequestsFor("setBreakpoints")
	require.Len(t, reqs, 3)
	assert.JSONEq(t, `[{"line":20}]`, gjson.GetBytes(reqs[2].Arguments, "breakpoints").Raw)

	got, _ := bps.Breakpoint(ten.ID)
	assert.NotContains(t, got.Verifications, s.ID())

	// Results are matched to the array as sent, so line 20 now has the
	// adapter's first id.
	got, _ = bps.Breakpoint(twenty.ID)
	v := got.Verifications[s.ID()]
	assert.True(t, v.Verified)
	assert.Equal(t, 1, v.AdapterID)
	assert.Equal(t, 20, v.Line)
}

func TestDisabledAtCreationIsNotPushed(t *testing.T) {
	m := newTestManager(t)
	_, adapter := startTestSession(t, m)

	_, err := m.Breakpoints().AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 5, Disabled: true})
	require.NoError(t, err)

	reqs := adapter.RequestsFor("setBreakpoints")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[]`, gjson.GetBytes(reqs[0].Arguments, "breakpoints").Raw)
}

func TestAdapterMovesBreakpoint(t *testing.T) {
	m := newTestManager(t)
	s, _ := startTestSession(t, m, func(a *daptest.Adapter) {
		a.Handle("setBreakpoints", func(a *daptest.Adapter, req *daptest.Request) {
			a.Respond(req, godap.SetBreakpointsResponseBody{Breakpoints: []godap.Breakpoint{
				{Id: 7, Verified: true, Line: 12},
				{Id: 8, Verified: false, Message: "no code"},
			}})
		})
	})
	ctx := context.Background()
	bps := m.Breakpoints()

	_, err := bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)
	_, err = bps.AddBreakpoint(ctx, "/src/file.js", BreakpointSpec{Line: 11})
	require.NoError(t, err)

	all := bps.Breakpoints()
	require.Len(t, all, 2)
	assert.Equal(t, Verification{Verified: true, Line: 12, AdapterID: 7}, all[0].Verifications[s.ID()])
	assert.Equal(t, Verification{Message: "no code", AdapterID: 8}, all[1].Verifications[s.ID()])
	assert.Equal(t, 10, all[0].Line, "desired state keeps the requested line")
}

func TestPushFailureIsolatedPerSession(t *testing.T) {
	m := newTestManager(t)
	failing, _ := startTestSession(t, m, func(a *daptest.Adapter) {
		a.Handle("setBreakpoints", func(a *daptest.Adapter, req *daptest.Request) {
			a.Fail(req, "source not loaded")
		})
	})
	healthy, healthyAdapter := startTestSession(t, m)

	bp, err := m.Breakpoints().AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), failing.ID())
	assert.NotContains(t, err.Error(), healthy.ID())

	assert.Len(t, healthyAdapter.RequestsFor("setBreakpoints"), 1)

	got, ok := m.Breakpoints().Breakpoint(bp.ID)
	require.True(t, ok, "the breakpoint is kept when a push fails")
	assert.True(t, got.Verifications[healthy.ID()].Verified)
	assert.False(t, got.Verifications[failing.ID()].Verified)
	assert.Contains(t, got.Verifications[failing.ID()].Message, "source not loaded")
	assert.True(t, got.Verified())
}

func TestPushWaitsForHandshake(t *testing.T) {
	m := newTestManager(t)
	s, adapter := newTestSession(t, m)

	_, err := m.Breakpoints().AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 3})
	require.NoError(t, err)
	assert.Empty(t, adapter.RequestsFor("setBreakpoints"))

	require.NoError(t, s.Start(context.Background()))
	reqs := adapter.RequestsFor("setBreakpoints")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[{"line":3}]`, gjson.GetBytes(reqs[0].Arguments, "breakpoints").Raw)
}

func TestVerificationPurgedOnTerminate(t *testing.T) {
	m := newTestManager(t)
	s, adapter := startTestSession(t, m)
	bps := m.Breakpoints()

	bp, err := bps.AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)
	got, _ := bps.Breakpoint(bp.ID)
	require.Contains(t, got.Verifications, s.ID())

	adapter.Terminated()
	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not terminate")
	}

	got, ok := bps.Breakpoint(bp.ID)
	require.True(t, ok, "breakpoints outlive sessions")
	assert.Empty(t, got.Verifications)
}

func TestTerminationDuringPushLeavesNoVerification(t *testing.T) {
	m := newTestManager(t)
	s, _ := startTestSession(t, m, func(a *daptest.Adapter) {
		a.Handle("setBreakpoints", func(a *daptest.Adapter, req *daptest.Request) {
			a.Close()
		})
	})
	bps := m.Breakpoints()

	bp, err := bps.AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 10})
	assert.Error(t, err)
	require.NotZero(t, bp.ID)

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not terminate")
	}
	assert.Equal(t, StateTerminated, s.State())

	got, ok := bps.Breakpoint(bp.ID)
	require.True(t, ok)
	assert.Empty(t, got.Verifications)
}

func TestBreakpointEventUpdatesVerification(t *testing.T) {
	m := newTestManager(t)
	s, adapter := startTestSession(t, m)
	bps := m.Breakpoints()

	bp, err := bps.AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)

	adapter.BreakpointChanged(godap.Breakpoint{Id: 1, Verified: false, Message: "pending"})

	require.Eventually(t, func() bool {
		got, _ := bps.Breakpoint(bp.ID)
		return got.Verifications[s.ID()].Message == "pending"
	}, waitFor, tick)

	got, _ := bps.Breakpoint(bp.ID)
	v := got.Verifications[s.ID()]
	assert.False(t, v.Verified)
	assert.Equal(t, 10, v.Line, "a missing line keeps the previous one")

	adapter.SendJSON([]byte(`{"seq":90,"type":"event","event":"breakpoint","body":{"reason":"removed","breakpoint":{"id":1,"verified":false}}}`))
	require.Eventually(t, func() bool {
		got, _ := bps.Breakpoint(bp.ID)
		_, ok := got.Verifications[s.ID()]
		return !ok
	}, waitFor, tick)
}

func TestStopRecordsHitCount(t *testing.T) {
	m := newTestManager(t)
	s, adapter := startTestSession(t, m)
	bps := m.Breakpoints()

	bp, err := bps.AddBreakpoint(context.Background(), "/src/file.js", BreakpointSpec{Line: 10})
	require.NoError(t, err)

	adapter.SendJSON([]byte(`{"seq":91,"type":"event","event":"stopped","body":{"reason":"breakpoint","threadId":1,"allThreadsStopped":true,"hitBreakpointIds":[1]}}`))
	waitState(t, s, StateStopped)

	require.Eventually(t, func() bool {
		got, _ := bps.Breakpoint(bp.ID)
		return got.HitCount == 1
	}, waitFor, tick)
}

func TestFunctionBreakpoints(t *testing.T) {
	m := newTestManager(t)
	_, plain := startTestSession(t, m)
	s, capable := startTestSession(t, m, func(a *daptest.Adapter) {
		a.Capabilities.SupportsFunctionBreakpoints = true
	})
	ctx := context.Background()
	bps := m.Breakpoints()

	fb, err := bps.AddFunctionBreakpoint(ctx, "main.run", "n > 2")
	require.NoError(t, err)

	assert.Empty(t, plain.RequestsFor("setFunctionBreakpoints"))
	reqs := capable.RequestsFor("setFunctionBreakpoints")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `[{"name":"main.run","condition":"n > 2"}]`, gjson.GetBytes(reqs[0].Arguments, "breakpoints").Raw)

	list := bps.FunctionBreakpoints()
	require.Len(t, list, 1)
	assert.True(t, list[0].Verifications[s.ID()].Verified)

	require.NoError(t, bps.RemoveFunctionBreakpoint(ctx, fb.ID))
	reqs = capable.RequestsFor("setFunctionBreakpoints")
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `[]`, gjson.GetBytes(reqs[1].Arguments, "breakpoints").Raw)

	_, err = bps.AddFunctionBreakpoint(ctx, "", "")
	assert.Error(t, err)
}

func TestSetExceptionFilter(t *testing.T) {
	m := newTestManager(t)
	_, adapter := startTestSession(t, m, func(a *daptest.Adapter) {
		a.Capabilities.ExceptionBreakpointFilters = []godap.ExceptionBreakpointsFilter{
			{Filter: "uncaught", Label: "Uncaught", Default: true},
			{Filter: "caught", Label: "Caught"},
		}
	})
	ctx := context.Background()
	bps := m.Breakpoints()

	filters := bps.ExceptionFilters()
	require.Len(t, filters, 2)
	assert.Equal(t, ExceptionFilter{Filter: "uncaught", Label: "Uncaught", Enabled: true}, filters[0])
	assert.False(t, filters[1].Enabled)

	require.NoError(t, bps.SetExceptionFilter(ctx, "caught", true))
	require.NoError(t, bps.SetExceptionFilter(ctx, "userUnhandled", true))

	reqs := adapter.RequestsFor("setExceptionBreakpoints")
	require.Len(t, reqs, 3)
	assert.JSONEq(t, `["uncaught"]`, gjson.GetBytes(reqs[0].Arguments, "filters").Raw)
	assert.JSONEq(t, `["uncaught","caught"]`, gjson.GetBytes(reqs[1].Arguments, "filters").Raw)
	assert.JSONEq(t, `["uncaught","caught"]`, gjson.GetBytes(reqs[2].Arguments, "filters").Raw,
		"filters the adapter does not offer are not sent")
	assert.Len(t, bps.ExceptionFilters(), 3)
}

func TestRegisterExceptionFiltersKeepsUserChoice(t *testing.T) {
	m := NewBreakpointManager()
	require.NoError(t, m.SetExceptionFilter(context.Background(), "uncaught", false))

	m.registerExceptionFilters([]dap.ExceptionBreakpointsFilter{
		{Filter: "uncaught", Label: "Uncaught Exceptions", Default: true},
		{Filter: "caught", Label: "Caught Exceptions", Default: true},
	})

	filters := m.ExceptionFilters()
	require.Len(t, filters, 2)
	assert.Equal(t, ExceptionFilter{Filter: "uncaught", Label: "Uncaught Exceptions", Enabled: false}, filters[0])
	assert.Equal(t, ExceptionFilter{Filter: "caught", Label: "Caught Exceptions", Enabled: true}, filters[1])
}
