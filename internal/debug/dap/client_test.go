package dap

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/debugengine/internal/debug/daptest"
	"github.com/dshills/debugengine/internal/debug/transport"
	"github.com/dshills/debugengine/internal/logging"
)

const waitFor = 2 * time.Second

func newTestClient(t *testing.T, opts ...ClientOption) (*Client, *daptest.Adapter) {
	t.Helper()
	adapter, conn := daptest.New(t)
	tr := transport.New(conn, transport.WithLogger(logging.Discard()))
	opts = append([]ClientOption{WithLogger(logging.Discard())}, opts...)
	c := NewClient(tr, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, adapter
}

func TestSequenceNumbersStartAtOne(t *testing.T) {
	c, adapter := newTestClient(t)
	ctx := context.Background()

	_, err := c.Threads(ctx)
	require.NoError(t, err)
	_, err = c.Threads(ctx)
	require.NoError(t, err)
	require.NoError(t, c.ConfigurationDone(ctx))

	reqs := adapter.Requests()
	require.Len(t, reqs, 3)
	for i, r := range reqs {
		assert.Equal(t, i+1, r.Seq)
	}
	assert.Equal(t, []string{"threads", "threads", "configurationDone"}, adapter.Commands())
}

func TestTypedResponse(t *testing.T) {
	c, _ := newTestClient(t)

	threads, err := c.Threads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Thread{{ID: 1, Name: "main"}}, threads)
}

func TestTimeoutDiscardsLateResponse(t *testing.T) {
	c, adapter := newTestClient(t)
	held := make(chan *daptest.Request, 1)
	adapter.Handle("evaluate", func(_ *daptest.Adapter, req *daptest.Request) {
		held <- req
	})

	start := time.Now()
	_, err := c.Evaluate(context.Background(), EvaluateArguments{Expression: "x"}, WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Zero(t, c.PendingCount())

	req := <-held
	adapter.RespondSeq(req.Seq, "evaluate")

	threads, err := c.Threads(context.Background())
	require.NoError(t, err)
	assert.Len(t, threads, 1)
	assert.Zero(t, c.PendingCount())
}

func TestDefaultTimeout(t *testing.T) {
	c, adapter := newTestClient(t, WithDefaultTimeout(30*time.Millisecond))
	adapter.Handle("pause", func(*daptest.Adapter, *daptest.Request) {})

	err := c.Pause(context.Background(), ThreadArguments{ThreadID: 1})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAdapterRejection(t *testing.T) {
	c, adapter := newTestClient(t)
	adapter.Handle("evaluate", func(a *daptest.Adapter, req *daptest.Request) {
		a.Fail(req, "unknown identifier")
	})

	_, err := c.Evaluate(context.Background(), EvaluateArguments{Expression: "nope"})
	require.ErrorIs(t, err, ErrAdapterRejected)

	var aerr *AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "evaluate", aerr.Command)
	assert.Equal(t, "unknown identifier", aerr.Text())
	assert.Equal(t, 1000, aerr.ID)
}

func TestClosureFailsPendingRequests(t *testing.T) {
	c, adapter := newTestClient(t)
	adapter.Handle("stackTrace", func(*daptest.Adapter, *daptest.Request) {})

	var closes int
	var mu sync.Mutex
	closed := make(chan struct{})
	c.OnClosed(func(error) {
		mu.Lock()
		closes++
		mu.Unlock()
		close(closed)
	})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.StackTrace(context.Background(), StackTraceArguments{ThreadID: 1})
			errs <- err
		}()
	}
	adapter.WaitFor(t, "stackTrace", 2, waitFor)
	adapter.Close()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrSessionTerminated)
		case <-time.After(waitFor):
			t.Fatal("pending request not failed")
		}
	}

	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("OnClosed not called")
	}
	require.NoError(t, c.Close())

	mu.Lock()
	assert.Equal(t, 1, closes)
	mu.Unlock()

	_, err := c.Threads(context.Background())
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestCancellationRemovesPending(t *testing.T) {
	c, adapter := newTestClient(t)
	adapter.Handle("variables", func(*daptest.Adapter, *daptest.Request) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Variables(ctx, VariablesArguments{VariablesReference: 3})
		done <- err
	}()

	adapter.WaitFor(t, "variables", 1, waitFor)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("cancel not observed")
	}
	assert.Zero(t, c.PendingCount())
}

func TestCancelledContextSendsNothing(t *testing.T) {
	c, adapter := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Pause(ctx, ThreadArguments{ThreadID: 1})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Threads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"threads"}, adapter.Commands())
}

func TestEventsDeliveredInOrder(t *testing.T) {
	c, adapter := newTestClient(t)

	const n = 50
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	c.OnEvent("output", func(Event) {
		panic("subscriber failure")
	})
	c.OnEvent("output", func(e Event) {
		body, err := DecodeBody[OutputEventBody](e)
		assert.NoError(t, err)
		mu.Lock()
		got = append(got, body.Output)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < n; i++ {
		adapter.Output("stdout", strconv.Itoa(i))
	}

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("events not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range got {
		assert.Equal(t, strconv.Itoa(i), s)
	}
}

func TestWildcardSubscription(t *testing.T) {
	c, adapter := newTestClient(t)

	names := make(chan string, 3)
	c.OnEvent(AnyEvent, func(e Event) { names <- e.Event })

	adapter.Thread("started", 2)
	adapter.Stopped(2, "pause")
	adapter.Exited(0)

	for _, want := range []string{"thread", "stopped", "exited"} {
		select {
		case got := <-names:
			assert.Equal(t, want, got)
		case <-time.After(waitFor):
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestEventHandlerMayIssueRequests(t *testing.T) {
	c, adapter := newTestClient(t)

	result := make(chan []Thread, 1)
	c.OnEvent("stopped", func(Event) {
		threads, err := c.Threads(context.Background())
		if err == nil {
			result <- threads
		}
	})
	adapter.Stopped(1, "breakpoint")

	select {
	case threads := <-result:
		assert.Len(t, threads, 1)
	case <-time.After(waitFor):
		t.Fatal("request from event handler did not complete")
	}
}

func TestSubscriptionCancel(t *testing.T) {
	c, adapter := newTestClient(t)

	var calls int
	var mu sync.Mutex
	sub := c.OnEvent("thread", func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	marker := make(chan struct{})
	c.OnEvent("exited", func(Event) { close(marker) })

	sub.Cancel()
	adapter.Thread("started", 1)
	adapter.Exited(0)

	select {
	case <-marker:
	case <-time.After(waitFor):
		t.Fatal("marker event not delivered")
	}
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()
}

func TestReverseRequestDeclined(t *testing.T) {
	_, adapter := newTestClient(t)

	adapter.SendJSON([]byte(`{"seq":90,"type":"request","command":"runInTerminal","arguments":{"args":["sh"]}}`))

	resps := adapter.WaitForResponse(t, 1, waitFor)
	fields := gjson.GetManyBytes(resps[0], "request_seq", "success", "command")
	assert.Equal(t, int64(90), fields[0].Int())
	assert.False(t, fields[1].Bool())
	assert.Equal(t, "runInTerminal", fields[2].String())
}

func TestLaunchArgumentsSentVerbatim(t *testing.T) {
	c, adapter := newTestClient(t)

	args := json.RawMessage(`{"program":"main.go","__sessionId":"abc"}`)
	require.NoError(t, c.Launch(context.Background(), args))

	reqs := adapter.RequestsFor("launch")
	require.Len(t, reqs, 1)
	assert.JSONEq(t, string(args), string(reqs[0].Arguments))
}

func TestSetBreakpointsPositional(t *testing.T) {
	c, adapter := newTestClient(t)
	adapter.Handle("setBreakpoints", func(a *daptest.Adapter, req *daptest.Request) {
		a.Respond(req, map[string]any{"breakpoints": []map[string]any{
			{"verified": true, "line": 11},
			{"verified": false, "message": "no code"},
		}})
	})

	bps, err := c.SetBreakpoints(context.Background(), SetBreakpointsArguments{
		Source:      Source{Path: "/src/app.js"},
		Breakpoints: []SourceBreakpoint{{Line: 10}, {Line: 20}},
	})
	require.NoError(t, err)
	require.Len(t, bps, 2)
	assert.True(t, bps[0].Verified)
	assert.Equal(t, 11, bps[0].Line)
	assert.False(t, bps[1].Verified)
	assert.Equal(t, "no code", bps[1].Message)
}

func TestExpandFormat(t *testing.T) {
	got := expandFormat("cannot read {name} at {addr}", map[string]string{"name": "x", "addr": "0x10"})
	assert.Equal(t, "cannot read x at 0x10", got)
}

func TestAdapterErrorIs(t *testing.T) {
	err := error(&AdapterError{Command: "next", Message: "notStopped"})
	assert.True(t, errors.Is(err, ErrAdapterRejected))
	assert.Equal(t, "next failed: notStopped", err.Error())
}

func TestGoSendsBeforeWait(t *testing.T) {
	c, adapter := newTestClient(t)
	held := make(chan *daptest.Request, 1)
	adapter.Handle("launch", func(_ *daptest.Adapter, req *daptest.Request) {
		held <- req
	})

	call, err := c.Go(context.Background(), "launch", json.RawMessage(`{"program":"main.go"}`))
	require.NoError(t, err)

	var req *daptest.Request
	select {
	case req = <-held:
	case <-time.After(waitFor):
		t.Fatal("launch not sent before Wait")
	}
	assert.Equal(t, call.Seq(), req.Seq)
	assert.Equal(t, 1, c.PendingCount())

	adapter.RespondSeq(req.Seq, "launch")
	resp, err := call.Wait()
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, c.PendingCount())
}

func TestCallTimeoutCountsFromSend(t *testing.T) {
	c, adapter := newTestClient(t)
	adapter.Handle("attach", func(*daptest.Adapter, *daptest.Request) {})

	call, err := c.Go(context.Background(), "attach", nil, WithTimeout(40*time.Millisecond))
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)

	start := time.Now()
	_, err = call.Wait()
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.Zero(t, c.PendingCount())
}
