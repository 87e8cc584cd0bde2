package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/skillcheck/internal/model"
	"github.com/ashita-ai/skillcheck/internal/testutil"
)

// recorder collects delivered events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
	runs   []string
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 256)}
}

func (r *recorder) handle(runID string, ev model.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.runs = append(r.runs, runID)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) snapshot() ([]string, []model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...), append([]model.Event(nil), r.events...)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.notify:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func writeFrame(w http.ResponseWriter, event, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	w.(http.Flusher).Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

func newTestClient(t *testing.T, url string, rec *recorder) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, Logger: testutil.TestLogger()}, rec.handle)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func waitDone(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, func(string, model.Event) {})
	assert.ErrorContains(t, err, "BaseURL is required")

	_, err = NewClient(Config{BaseURL: "http://x"}, nil)
	assert.ErrorContains(t, err, "handler is required")
}

func TestStreamDeliversInOrderAndSelfTerminates(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/runs/r1/stream", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		sseHeaders(w)
		_, _ = fmt.Fprint(w, ": ping\n\n")
		writeFrame(w, "started", `{"run_id":"r1","total":2}`)
		writeFrame(w, "progress", `{"scenario_id":"s1","model":"haiku","status":"ok"}`)
		writeFrame(w, "completed", `{"run_id":"r1","report_md":"r.md","report_json":"r.json"}`)
		// Late duplicate delivery on a connection the server keeps open.
		writeFrame(w, "progress", `{"scenario_id":"s1","model":"haiku","status":"error"}`)
		writeFrame(w, "completed", `{"run_id":"r1","report_md":"r.md","report_json":"r.json"}`)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	c, err := NewClient(Config{BaseURL: srv.URL + "/", Token: "tok", Logger: testutil.TestLogger()}, rec.handle)
	require.NoError(t, err)

	sub := c.Connect(context.Background(), "r1", "/api/runs/r1/stream")
	waitDone(t, sub)

	runs, events := rec.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, model.Started{RunID: "r1", Total: 2}, events[0])
	assert.Equal(t, model.Progress{ScenarioID: "s1", Model: "haiku", Status: model.TaskOK}, events[1])
	assert.Equal(t, model.EventCompleted, events[2].Type())
	assert.Equal(t, []string{"r1", "r1", "r1"}, runs)
	assert.False(t, sub.Live())
}

func TestStreamErrorEventIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		writeFrame(w, "error", `{"run_id":"r1","error":"judge crashed"}`)
		writeFrame(w, "started", `{"run_id":"r1","total":2}`)
	}))
	defer srv.Close()

	rec := newRecorder()
	sub := newTestClient(t, srv.URL, rec).Connect(context.Background(), "r1", "/s")
	waitDone(t, sub)

	_, events := rec.snapshot()
	assert.Equal(t, []model.Event{model.Failed{RunID: "r1", Message: "judge crashed"}}, events)
}

func TestStreamJoinsMultilineData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseHeaders(w)
		_, _ = fmt.Fprint(w, "event: started\r\ndata: {\"run_id\":\"r1\",\r\ndata: \"total\":4}\r\n\r\n")
		_, _ = fmt.Fprint(w, "id: 7\nretry: 100\nevent: completed\ndata:{\"run_id\":\"r1\"}\n\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	sub := newTestClient(t, srv.URL, rec).Connect(context.Background(), "r1", "/s")
	waitDone(t, sub)

	_, events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, model.Started{RunID: "r1", Total: 4}, events[0])
	assert.Equal(t, model.Completed{RunID: "r1"}, events[1])
}

func TestStreamTransportFailuresReportConnectionLost(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"Run not found"}`, http.StatusNotFound)
			},
			want: "unexpected status 404",
		},
		{
			name: "wrong content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{}`))
			},
			want: "unexpected content type",
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sseHeaders(w)
				writeFrame(w, "progress", `{"scenario_id":`)
			},
			want: "decode progress",
		},
		{
			name: "unknown event",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sseHeaders(w)
				writeFrame(w, "heartbeat", `{}`)
			},
			want: "unknown event",
		},
		{
			name: "local-only event on the wire",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sseHeaders(w)
				writeFrame(w, "connection_lost", `{"error":"spoofed"}`)
			},
			want: "unknown event",
		},
		{
			name: "eof before terminal",
			handler: func(w http.ResponseWriter, r *http.Request) {
				sseHeaders(w)
				writeFrame(w, "started", `{"run_id":"r1","total":1}`)
			},
			want: "ended before a terminal event",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			rec := newRecorder()
			sub := newTestClient(t, srv.URL, rec).Connect(context.Background(), "r1", "/s")
			waitDone(t, sub)

			_, events := rec.snapshot()
			require.NotEmpty(t, events)
			lost, ok := events[len(events)-1].(model.ConnectionLost)
			require.True(t, ok, "last event %T", events[len(events)-1])

			var terr *model.StreamTransportError
			require.True(t, errors.As(lost.Err, &terr))
			assert.Equal(t, "r1", terr.RunID)
			assert.Contains(t, lost.Err.Error(), tc.want)

			for _, ev := range events[:len(events)-1] {
				assert.False(t, model.IsTerminal(ev))
			}
		})
	}
}

// pushServer streams whatever frames are sent on the channel registered
// for the request path.
type pushServer struct {
	frames map[string]chan string
	srv    *httptest.Server
}

func newPushServer(t *testing.T, paths ...string) *pushServer {
	p := &pushServer{frames: make(map[string]chan string)}
	for _, path := range paths {
		p.frames[path] = make(chan string, 16)
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, ok := p.frames[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		sseHeaders(w)
		for {
			select {
			case f := <-ch:
				_, _ = fmt.Fprint(w, f)
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func progressFrame(scenario string) string {
	return fmt.Sprintf("event: progress\ndata: {\"scenario_id\":%q,\"model\":\"opus\",\"status\":\"running\"}\n\n", scenario)
}

func TestConnectSwitchLeavesOneLiveSubscription(t *testing.T) {
	p := newPushServer(t, "/a", "/b")
	rec := newRecorder()
	c := newTestClient(t, p.srv.URL, rec)

	subA := c.Connect(context.Background(), "A", "/a")
	p.frames["/a"] <- progressFrame("a-1")
	rec.wait(t, 1)

	subB := c.Connect(context.Background(), "B", "/b")

	assert.False(t, subA.Live())
	assert.True(t, subB.Live())
	assert.Same(t, subB, c.Current())
	waitDone(t, subA)

	// A's server side keeps talking; nothing from it may arrive.
	p.frames["/a"] <- progressFrame("a-2")
	p.frames["/b"] <- progressFrame("b-1")
	rec.wait(t, 1)
	time.Sleep(50 * time.Millisecond)

	runs, events := rec.snapshot()
	assert.Equal(t, []string{"A", "B"}, runs)
	require.Len(t, events, 2)
	assert.Equal(t, "b-1", events[1].(model.Progress).ScenarioID)
}

func TestCloseIsSynchronousAndIdempotent(t *testing.T) {
	p := newPushServer(t, "/s")
	rec := newRecorder()
	c := newTestClient(t, p.srv.URL, rec)

	sub := c.Connect(context.Background(), "r1", "/s")
	p.frames["/s"] <- progressFrame("s1")
	rec.wait(t, 1)

	sub.Close()
	sub.Close()
	c.Disconnect()
	c.Disconnect()
	assert.False(t, sub.Live())
	assert.Nil(t, c.Current())

	p.frames["/s"] <- progressFrame("s2")
	time.Sleep(50 * time.Millisecond)

	_, events := rec.snapshot()
	require.Len(t, events, 1)
	for _, ev := range events {
		_, lost := ev.(model.ConnectionLost)
		assert.False(t, lost, "Close must not report a lost connection")
	}
}

func TestFrameReaderSkipsEmptyDispatch(t *testing.T) {
	fr := newFrameReader(strings.NewReader("\n\n: keepalive\n\nevent: started\n\ndata: {}\n\n"))
	f, err := fr.next()
	require.NoError(t, err)
	// The event name is reset by the blank line before any data arrived.
	assert.Equal(t, frame{event: "", data: "{}"}, f)

	_, err = fr.next()
	assert.ErrorIs(t, err, errEndOfStream)
}

func TestFrameReaderAcceptsEveryLineEnding(t *testing.T) {
	body := "event: progress\rdata: {\"n\":1}\r\r" +
		"event: progress\r\ndata: {\"n\":2}\r\n\r\n" +
		"data: a\rdata: b\n\n"
	for name, r := range map[string]io.Reader{
		"whole":    strings.NewReader(body),
		"bytewise": iotest.OneByteReader(strings.NewReader(body)),
		"halfwise": iotest.HalfReader(strings.NewReader(body)),
	} {
		t.Run(name, func(t *testing.T) {
			fr := newFrameReader(r)
			var got []frame
			for {
				f, err := fr.next()
				if errors.Is(err, errEndOfStream) {
					break
				}
				require.NoError(t, err)
				got = append(got, f)
			}
			assert.Equal(t, []frame{
				{event: "progress", data: `{"n":1}`},
				{event: "progress", data: `{"n":2}`},
				{event: "", data: "a\nb"},
			}, got)
		})
	}
}

func TestFrameReaderDispatchesOnTrailingCR(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	go func() { _, _ = io.WriteString(pw, "data: live\r\r") }()

	done := make(chan frame, 1)
	go func() {
		f, err := newFrameReader(pr).next()
		if err == nil {
			done <- f
		}
	}()
	select {
	case f := <-done:
		assert.Equal(t, "live", f.data)
	case <-time.After(2 * time.Second):
		t.Fatal("frame ending in a bare CR was held back waiting for more input")
	}
}
