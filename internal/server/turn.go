package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pilot/internal/contextdoc"
	"pilot/internal/logging"
	"pilot/internal/translate"
)

// errDelivery marks a failure to write to the client. The connection is
// broken; unlike an internal turn error it cannot be reported back.
var errDelivery = errors.New("delivery failed")

// turnSinks are the per-transport delivery callbacks. A nil sink skips that
// delivery: the HTTP fallback returns the result in its response body and
// has no state push, while the websocket path uses both.
type turnSinks struct {
	// display delivers the translation's display text. It runs before any
	// action is dispatched; a delivery failure aborts the turn without
	// executing anything.
	display func(text string, latencyMS int64) error

	// state delivers the post-settle multiplexer state and context
	// document.
	state func(state, contextText string) error
}

// runTurn is the one code path for a command turn, shared by the websocket
// loop and the HTTP fallback: snapshot, translate, display, dispatch, merge,
// settle, state push. The error return is reserved for delivery failures and
// caller cancellation; collaborator failures surface as degraded results.
func (s *Server) runTurn(ctx context.Context, connID string, req *translate.Request, sinks turnSinks) (*translate.Result, int64, error) {
	log := logging.Get(logging.CategoryServer)

	snap := s.runner.TakeSnapshot(ctx, s.cfg.Tmux.CaptureLines)
	req.SnapshotText = snap.Render()

	// A first-ever turn that carries coordinates seeds the document's
	// location block.
	if !s.store.Exists() {
		location := ""
		if req.GPS != nil {
			location = fmt.Sprintf("GPS: %.4f, %.4f", req.GPS.Lat, req.GPS.Lon)
		}
		if _, err := s.store.Init(location); err != nil {
			log.Warn("[%s] context init failed: %v", connID, err)
		}
	}

	doc, err := s.store.Load()
	if err != nil {
		log.Warn("[%s] context load failed, translating without it: %v", connID, err)
	}
	req.Context = doc

	start := time.Now()
	res, err := s.translator.Translate(ctx, req)
	if err != nil {
		// Caller cancellation only; the translator absorbs its own
		// failures into degraded results.
		return nil, 0, err
	}
	latencyMS := time.Since(start).Milliseconds()
	log.Info("[%s] translated in %dms (%d actions)", connID, latencyMS, len(res.Actions))

	// The user sees the display before anything touches the multiplexer.
	// If the client is gone, the whole result is discarded.
	if sinks.display != nil {
		if err := sinks.display(res.Display, latencyMS); err != nil {
			return nil, 0, fmt.Errorf("%w: display: %v", errDelivery, err)
		}
	}

	executed, failures := s.dispatch(ctx, connID, res.Actions)

	note := res.Note
	if len(failures) > 0 {
		if note != "" {
			note += "; "
		}
		note += strings.Join(failures, "; ")
	}

	// The document records the state the translator saw, not the
	// post-execution one.
	if err := s.store.Update(contextdoc.Update{
		Task:          res.Task,
		RecentTargets: executed,
		Note:          note,
		StateView:     snap.Summary(),
	}); err != nil {
		log.Warn("[%s] context update failed: %v", connID, err)
	}

	if sinks.state != nil {
		if err := s.settleAndPush(ctx, sinks.state); err != nil {
			return res, latencyMS, fmt.Errorf("%w: state push: %v", errDelivery, err)
		}
	}
	return res, latencyMS, nil
}

// dispatch executes actions in order. A failing action is recorded and the
// rest still run; only targets whose send succeeded count as touched.
func (s *Server) dispatch(ctx context.Context, connID string, actions []translate.Action) (executed []string, failures []string) {
	log := logging.Get(logging.CategoryServer)
	for _, a := range actions {
		if a.Keys == "" {
			continue
		}
		if err := s.runner.SendKeys(ctx, a.Target, a.Keys); err != nil {
			log.Warn("[%s] send to %q failed: %v", connID, a.Target, err)
			failures = append(failures, fmt.Sprintf("send to %q failed: %v", a.Target, err))
			continue
		}
		if a.Target != "" {
			executed = append(executed, a.Target)
		}
	}
	return executed, failures
}

// settleAndPush waits for commands to take effect, then delivers a fresh
// snapshot and the merged context document.
func (s *Server) settleAndPush(ctx context.Context, push func(state, contextText string) error) error {
	select {
	case <-time.After(s.cfg.SettleDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	snap := s.runner.TakeSnapshot(ctx, s.cfg.Tmux.CaptureLines)
	doc, err := s.store.Load()
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("context load for state push failed: %v", err)
	}
	return push(snap.Render(), doc)
}
