package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator"
	"github.com/Jmemon/contextual-clarity-sub001/internal/evaluator/evaluatortest"
	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent"
	"github.com/Jmemon/contextual-clarity-sub001/internal/tangent/tangenttest"
)

type frame map[string]any

func (f frame) kind() string {
	s, _ := f["type"].(string)
	return s
}

func dial(t *testing.T, env *testEnv, setID string) *websocket.Conn {
	t.Helper()
	srv := env.server(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sets/" + setID + "/session"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

// readUntil collects frames up to and including the first of type want.
func readUntil(t *testing.T, conn *websocket.Conn, want string) []frame {
	t.Helper()
	var got []frame
	for range 64 {
		f := read(t, conn)
		got = append(got, f)
		if f.kind() == want {
			return got
		}
	}
	t.Fatalf("no %s frame in %d frames", want, len(got))
	return nil
}

func kinds(frames []frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.kind()
	}
	return out
}

func indexOf(frames []frame, kind string) int {
	for i, f := range frames {
		if f.kind() == kind {
			return i
		}
	}
	return -1
}

func TestSocket_RecallThenLeaveFinalizes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withResults(map[string]evaluator.Result{
		"bio-p1": evaluatortest.Recalled(0.9),
	}))
	seedSet(t, env.store, "bio", 1)
	conn := dial(t, env, "bio")

	started := read(t, conn)
	if started.kind() != MsgSessionStarted {
		t.Fatalf("first frame = %v, want session_started", started)
	}
	if started["sessionId"] == "" || started["totalPoints"] != float64(1) {
		t.Errorf("session_started = %v", started)
	}
	if started["openingMessage"] != "Tell me what you remember about it." {
		t.Errorf("openingMessage = %v", started["openingMessage"])
	}

	send(t, conn, Inbound{Type: MsgUserMessage, Content: "Mitochondria make ATP."})
	frames := readUntil(t, conn, MsgAssistantComplete)

	if indexOf(frames, MsgPointRecalled) < 0 {
		t.Errorf("frames = %v, want point_recalled", kinds(frames))
	}
	complete := indexOf(frames, MsgAssistantComplete)
	if indexOf(frames, MsgAssistantChunk) < 0 {
		t.Errorf("frames = %v, want streamed chunks", kinds(frames))
	}
	for _, f := range frames[complete+1:] {
		if f.kind() == MsgAssistantChunk {
			t.Errorf("chunk after assistant_complete: %v", kinds(frames))
		}
	}
	if got := frames[complete]["fullContent"]; got != "Tell me what you remember about it." {
		t.Errorf("fullContent = %v", got)
	}

	// The overlay may arrive before or after the reply.
	if indexOf(frames, MsgSessionCompleteOverlay) < 0 {
		readUntil(t, conn, MsgSessionCompleteOverlay)
	}

	send(t, conn, Inbound{Type: MsgLeaveSession})
	done := readUntil(t, conn, MsgSessionComplete)
	summary, ok := done[len(done)-1]["summary"].(map[string]any)
	if !ok {
		t.Fatalf("session_complete without summary: %v", done[len(done)-1])
	}
	if summary["session_id"] != started["sessionId"] {
		t.Errorf("summary session = %v, want %v", summary["session_id"], started["sessionId"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", websocket.CloseStatus(err))
	}
}

func TestSocket_PingAndBadFrames(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 1)
	conn := dial(t, env, "bio")
	read(t, conn) // session_started

	send(t, conn, Inbound{Type: MsgPing})
	if f := read(t, conn); f.kind() != MsgPong {
		t.Errorf("ping answer = %v, want pong", f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if f := read(t, conn); f.kind() != MsgError || f["code"] != CodeBadRequest {
		t.Errorf("malformed answer = %v, want bad_request", f)
	}

	send(t, conn, Inbound{Type: "dance"})
	if f := read(t, conn); f["code"] != CodeBadRequest {
		t.Errorf("unknown type answer = %v, want bad_request", f)
	}

	send(t, conn, Inbound{Type: MsgUserMessage, Content: "   "})
	if f := read(t, conn); f["code"] != CodeBadRequest {
		t.Errorf("empty message answer = %v, want bad_request", f)
	}

	send(t, conn, Inbound{Type: MsgExitRabbithole})
	if f := read(t, conn); f["code"] != CodeBadRequest {
		t.Errorf("exit without tangent answer = %v, want bad_request", f)
	}

	// Still usable.
	send(t, conn, Inbound{Type: MsgPing})
	if f := read(t, conn); f.kind() != MsgPong {
		t.Errorf("after errors = %v, want pong", f)
	}
}

func TestSocket_NoPointsDue(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 0)
	conn := dial(t, env, "bio")

	f := read(t, conn)
	if f.kind() != MsgError || f["code"] != CodeNoPointsDue {
		t.Errorf("frame = %v, want no_points_due error", f)
	}
	if env.reg.Len() != 0 {
		t.Errorf("registry holds %d sessions, want 0", env.reg.Len())
	}
}

func TestSocket_ForcedEvaluationResolvesPoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ids := seedSet(t, env.store, "bio", 2)
	conn := dial(t, env, "bio")
	read(t, conn)

	send(t, conn, Inbound{Type: MsgTriggerEvaluation})
	frames := readUntil(t, conn, MsgAssistantComplete)
	i := indexOf(frames, MsgPointRecalled)
	if i < 0 {
		t.Fatalf("frames = %v, want point_recalled", kinds(frames))
	}
	if frames[i]["pointId"] != ids[0] || frames[i]["recalledCount"] != float64(1) {
		t.Errorf("point_recalled = %v", frames[i])
	}
	if indexOf(frames, MsgSessionCompleteOverlay) >= 0 {
		t.Errorf("overlay after one of two points: %v", kinds(frames))
	}
}

func TestSocket_DisconnectPausesSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 2)
	conn := dial(t, env, "bio")
	started := read(t, conn)
	sessionID, _ := started["sessionId"].(string)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := env.store.Sessions.FindByID(context.Background(), sessionID)
		if err == nil && sess.Status == model.StatusPaused && env.reg.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session not paused after disconnect")
}

func TestSocket_LeaveWithoutCompletionPauses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 2)
	conn := dial(t, env, "bio")
	started := read(t, conn)

	send(t, conn, Inbound{Type: MsgLeaveSession})
	paused := readUntil(t, conn, MsgSessionPaused)
	last := paused[len(paused)-1]
	if last["sessionId"] != started["sessionId"] || last["totalPoints"] != float64(2) {
		t.Errorf("session_paused = %v", last)
	}
}

func TestSocket_SecondClientJoinsSameSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedSet(t, env.store, "bio", 2)
	first := dial(t, env, "bio")
	a := read(t, first)

	second := dial(t, env, "bio")
	b := read(t, second)

	if a["sessionId"] != b["sessionId"] {
		t.Errorf("sessions differ: %v vs %v", a["sessionId"], b["sessionId"])
	}
	if _, ok := b["openingMessage"]; ok {
		t.Errorf("joining client got an opening message: %v", b)
	}
	if env.tutor.Calls() != 1 {
		t.Errorf("tutor calls = %d, want 1 opening", env.tutor.Calls())
	}

	// Both clients see the turn.
	send(t, first, Inbound{Type: MsgUserMessage, Content: "I think it is about energy."})
	readUntil(t, first, MsgAssistantComplete)
	readUntil(t, second, MsgAssistantComplete)
}

func TestSocket_RateLimitsMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withRateLimit(RateLimitConfig{MessagesPerMin: 1}))
	seedSet(t, env.store, "bio", 2)
	conn := dial(t, env, "bio")
	readUntil(t, conn, MsgSessionStarted)

	send(t, conn, map[string]any{"type": MsgUserMessage, "content": "Something about ATP?"})
	send(t, conn, map[string]any{"type": MsgUserMessage, "content": "And ribosomes?"})

	frames := readUntil(t, conn, MsgError)
	last := frames[len(frames)-1]
	if last["code"] != CodeRateLimited {
		t.Errorf("error code = %v, want %s", last["code"], CodeRateLimited)
	}

	// Pings are never limited.
	send(t, conn, map[string]any{"type": MsgPing})
	readUntil(t, conn, MsgPong)
}

func waitPaused(t *testing.T, env *testEnv, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := env.store.Sessions.FindByID(context.Background(), sessionID)
		if err == nil && sess.Status == model.StatusPaused && env.reg.Len() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session not paused after disconnect")
}

func TestSocket_ReconnectRestoresCompletionOverlay(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, withResults(map[string]evaluator.Result{
		"bio-p1": evaluatortest.Recalled(0.9),
	}))
	seedSet(t, env.store, "bio", 1)
	conn := dial(t, env, "bio")
	started := read(t, conn)
	sessionID, _ := started["sessionId"].(string)

	send(t, conn, Inbound{Type: MsgUserMessage, Content: "Mitochondria make ATP."})
	readUntil(t, conn, MsgSessionCompleteOverlay)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitPaused(t, env, sessionID)

	again := dial(t, env, "bio")
	if f := read(t, again); f.kind() != MsgSessionStarted || f["sessionId"] != sessionID {
		t.Fatalf("first frame = %v, want session_started for %s", f, sessionID)
	}
	overlay := read(t, again)
	if overlay.kind() != MsgSessionCompleteOverlay {
		t.Fatalf("second frame = %v, want session_complete_overlay", overlay)
	}
	if overlay["recalledCount"] != float64(1) || overlay["totalPoints"] != float64(1) || overlay["canContinue"] != true {
		t.Errorf("overlay = %v", overlay)
	}
}

func TestSocket_JoinRestoresPendingSuggestion(t *testing.T) {
	t.Parallel()

	det := &tangenttest.Detector{
		DetectFunc: func(context.Context, model.RecallPoint, []model.Message) (*tangent.Suggestion, error) {
			return &tangent.Suggestion{EventID: "evt-krebs", Topic: "the Krebs cycle"}, nil
		},
	}
	env := newTestEnv(t, withDetector(det))
	seedSet(t, env.store, "bio", 2)
	first := dial(t, env, "bio")
	read(t, first)

	send(t, first, Inbound{Type: MsgUserMessage, Content: "What about the Krebs cycle?"})
	readUntil(t, first, MsgRabbitholeDetected)

	second := dial(t, env, "bio")
	if f := read(t, second); f.kind() != MsgSessionStarted {
		t.Fatalf("first frame = %v, want session_started", f)
	}
	f := read(t, second)
	if f.kind() != MsgRabbitholeDetected || f["topic"] != "the Krebs cycle" || f["eventId"] != "evt-krebs" {
		t.Errorf("second frame = %v, want rabbithole_detected evt-krebs", f)
	}
}
