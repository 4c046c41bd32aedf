package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/roamfit/roamfit/internal/coordinator"
)

func TestChatWS_RoundTrip(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{resp: &coordinator.AggregatedResponse{
		Text:  "ws reply",
		State: coordinator.StateFinalizing,
	}}
	ts, sessions := newTestServer(t, runner, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/chat/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, chatRequest{Message: "over the wire"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp chatResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Response != "ws reply" || resp.SessionID != "sess-1" {
		t.Errorf("resp = %+v", resp)
	}
	if runner.last == nil || runner.last.Message != "over the wire" {
		t.Errorf("runner request = %+v", runner.last)
	}

	// A second frame on the same connection reuses the session.
	if err := wsjson.Write(ctx, conn, chatRequest{Message: "again", SessionID: resp.SessionID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sessions.turns) != 2 {
		t.Errorf("turns = %d, want 2", len(sessions.turns))
	}
}

func TestChatWS_BadFrameStillAnswers(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &fakeRunner{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/v1/chat/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Empty message is rejected per frame, not per connection.
	if err := wsjson.Write(ctx, conn, chatRequest{Message: ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp chatResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ErrorKind != "bad_request" {
		t.Errorf("error_kind = %q, want bad_request", resp.ErrorKind)
	}

	// The connection stays usable afterwards.
	if err := wsjson.Write(ctx, conn, chatRequest{Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Response != "done" {
		t.Errorf("response = %q", resp.Response)
	}
}

func TestChatWS_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, &fakeRunner{}, nil)

	resp, err := http.Get(ts.URL + "/v1/chat/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Errorf("plain GET should not succeed, got %d", resp.StatusCode)
	}
}
