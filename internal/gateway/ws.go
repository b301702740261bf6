package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Jmemon/contextual-clarity-sub001/internal/event"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
)

const (
	readLimit      = 64 << 10
	writeTimeout   = 10 * time.Second
	releaseTimeout = 10 * time.Second
	socketBuffer   = 256
)

// leaveMarker tells the writer to flush pending events and stop.
type leaveMarker struct{}

// handleSessionSocket runs one websocket connection against the live
// session of a set: acquire, greet, then a read loop feeding the
// orchestrator while a single writer relays the session's events.
func (g *Gateway) handleSessionSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setID := chi.URLParam(r, "setID")

		// Server timeouts must not apply to the upgraded connection.
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.config.AllowedOrigins,
		})
		if err != nil {
			g.logger.Error("websocket accept failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close(websocket.StatusInternalError, "unexpected close")
		}()
		conn.SetReadLimit(readLimit)

		ctx := r.Context()

		live, created, err := g.registry.Acquire(ctx, setID)
		if err != nil {
			g.logger.Warn("gateway: session unavailable", "set_id", setID, "error", err)
			writeFrame(ctx, conn, errorFrame(errorCode(err), err.Error()))
			_ = conn.Close(websocket.StatusNormalClosure, "no session")
			return
		}
		defer func() {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			g.registry.Release(relCtx, live)
		}()

		var opening string
		if created {
			opening, err = live.Orch.OpeningMessage(ctx)
			if err != nil {
				g.logger.Error("gateway: opening message", "session_id", live.SessionID, "error", err)
				writeFrame(ctx, conn, errorFrame(errorCode(err), err.Error()))
			}
		}

		sub := g.bus.Subscribe(event.OnlySession(live.SessionID), event.Buffer(socketBuffer))
		defer sub.Close()

		started := SessionStartedFrame{Type: MsgSessionStarted, SessionID: live.SessionID, OpeningMessage: opening}
		snap := live.Orch.SessionState()
		if snap != nil {
			started.TotalPoints = snap.TotalPoints
			started.RecalledCount = snap.RecalledCount
		}
		if !writeFrame(ctx, conn, started) {
			return
		}
		for _, frame := range pendingFrames(snap) {
			if !writeFrame(ctx, conn, frame) {
				return
			}
		}

		g.logger.Info("gateway: client joined session",
			"set_id", setID, "session_id", live.SessionID, "created", created)

		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		replies := make(chan any, 16)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			g.writeLoop(connCtx, conn, sub, replies)
		}()

		left := g.readLoop(connCtx, conn, live.Orch, replies)
		if left {
			select {
			case replies <- leaveMarker{}:
			case <-writerDone:
			}
		} else {
			cancel()
		}
		<-writerDone

		if left {
			_ = conn.Close(websocket.StatusNormalClosure, "session left")
		}
	}
}

// pendingFrames rebuilds the prompts a client must still answer. Their
// events were published before this connection subscribed.
func pendingFrames(snap *orchestrator.Snapshot) []any {
	if snap == nil {
		return nil
	}
	var out []any
	if snap.CompletionPending && !snap.InTangent {
		out = append(out, OverlayFrame{
			Type:          MsgSessionCompleteOverlay,
			SessionID:     snap.SessionID,
			RecalledCount: snap.RecalledCount,
			TotalPoints:   snap.TotalPoints,
			Message:       orchestrator.CompletionMessage,
			CanContinue:   true,
		})
	}
	if sg := snap.PendingSuggestion; sg != nil {
		out = append(out, RabbitholeDetectedFrame{Type: MsgRabbitholeDetected, Topic: sg.Topic, EventID: sg.EventID})
	}
	return out
}

// writeLoop is the only writer on conn. It relays translated session
// events and direct replies until ctx ends, the subscription closes or a
// leaveMarker arrives.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, sub *event.Subscription, replies <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if frame, ok := Translate(evt); ok && !writeFrame(ctx, conn, frame) {
				return
			}
		case frame := <-replies:
			if _, ok := frame.(leaveMarker); ok {
				g.drain(ctx, conn, sub)
				return
			}
			if !writeFrame(ctx, conn, frame) {
				return
			}
		}
	}
}

// drain writes events already queued on sub.
func (g *Gateway) drain(ctx context.Context, conn *websocket.Conn, sub *event.Subscription) {
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if frame, ok := Translate(evt); ok && !writeFrame(ctx, conn, frame) {
				return
			}
		default:
			return
		}
	}
}

// readLoop dispatches client frames until the client leaves or the
// connection fails. It reports whether the client sent leave_session.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, orch *orchestrator.Orchestrator, replies chan<- any) bool {
	reply := func(frame any) {
		select {
		case replies <- frame:
		case <-ctx.Done():
		}
	}

	limit := newLimiter(g.config.RateLimit.MessagesPerMin, time.Minute, g.now)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return false
		}

		in, err := ParseInbound(data)
		if err != nil {
			reply(errorFrame(CodeBadRequest, err.Error()))
			continue
		}

		if in.Type == MsgPing {
			reply(PongFrame{Type: MsgPong})
			continue
		}
		if in.Type == MsgLeaveSession {
			if err := leave(ctx, orch); err != nil && !errors.Is(err, orchestrator.ErrSessionClosed) {
				g.logger.Error("gateway: leaving session", "error", err)
				reply(errorFrame(errorCode(err), err.Error()))
				continue
			}
			return true
		}

		if costly(in.Type) {
			if err := limit.Allow(); err != nil {
				reply(errorFrame(errorCode(err), err.Error()))
				continue
			}
		}

		if err := dispatch(ctx, orch, in); err != nil {
			g.logger.Warn("gateway: request failed", "type", in.Type, "error", err)
			reply(errorFrame(errorCode(err), err.Error()))
		}
	}
}

// leave finalizes a session awaiting completion and pauses any other.
func leave(ctx context.Context, orch *orchestrator.Orchestrator) error {
	snap := orch.SessionState()
	if snap == nil {
		return orchestrator.ErrSessionClosed
	}
	if snap.CompletionPending {
		_, err := orch.FinalizeSession(ctx)
		return err
	}
	return orch.PauseSession(ctx)
}

func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, in Inbound) error {
	switch in.Type {
	case MsgUserMessage:
		_, err := orch.ProcessUserMessage(ctx, in.Content)
		return err
	case MsgTriggerEvaluation:
		force := in.Force == nil || *in.Force
		_, err := orch.TriggerEvaluation(ctx, force)
		return err
	case MsgEnterRabbithole:
		return orch.EnterTangent(ctx, in.EventID, in.Topic)
	case MsgExitRabbithole:
		return orch.ExitTangent(ctx)
	case MsgDeclineRabbithole:
		return orch.DeclineTangent(ctx)
	case MsgDismissOverlay:
		return orch.DismissOverlay(ctx)
	}
	return nil
}

// writeFrame marshals and writes one frame. It reports false when the
// connection is unusable.
func writeFrame(ctx context.Context, conn *websocket.Conn, frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return true
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data) == nil
}
