package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pilot/internal/config"
	"pilot/internal/contextdoc"
	"pilot/internal/logging"
	"pilot/internal/tmux"
	"pilot/internal/translate"
)

// closeInvalidToken is the websocket close code sent when a handshake
// carries a bad token. Clients treat it as "re-pair", not "retry".
const closeInvalidToken = 4001

// Runner is the multiplexer surface the dispatcher needs. *tmux.Runner
// satisfies it; tests substitute recording fakes.
type Runner interface {
	TakeSnapshot(ctx context.Context, maxLines int) *tmux.Snapshot
	SendKeys(ctx context.Context, target, keys string) error
}

// Server wires the HTTP surface: websocket sessions, the HTTP command
// fallback, token pairing, and the static client bundle.
type Server struct {
	cfg        *config.Config
	token      []byte
	store      *contextdoc.Store
	runner     Runner
	translator translate.Translator
	upgrader   websocket.Upgrader
}

// New builds a server around the given collaborators. token is the shared
// secret every client must present.
func New(cfg *config.Config, token string, store *contextdoc.Store, runner Runner, translator translate.Translator) *Server {
	return &Server{
		cfg:        cfg,
		token:      []byte(token),
		store:      store,
		runner:     runner,
		translator: translator,
		upgrader: websocket.Upgrader{
			// Clients are phone apps and local pages, not browsers on
			// a shared origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the full HTTP surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir()))))
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/cmd", s.handleCmd)
	return mux
}

const indexFallback = `<!doctype html>
<html><head><meta name="viewport" content="width=device-width, initial-scale=1"><title>Pilot</title></head>
<body><h1>Pilot</h1><p>No client bundle installed. Place one under the static directory.</p></body></html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	index := filepath.Join(s.cfg.StaticDir(), "index.html")
	if _, err := os.Stat(index); err == nil {
		http.ServeFile(w, r, index)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexFallback)
}

// handleToken hands the shared secret to loopback callers only, so a client
// on the same machine can pair without digging the file out of ~/.pilot.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, string(s.token))
}

func (s *Server) tokenOK(presented string) bool {
	return subtle.ConstantTimeCompare(s.token, []byte(presented)) == 1
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	log := logging.Get(logging.CategoryServer)

	if !s.tokenOK(r.URL.Query().Get("token")) {
		log.Warn("rejected connection from %s: invalid token", r.RemoteAddr)
		if websocket.IsWebSocketUpgrade(r) {
			// Complete the handshake so the client sees a proper
			// close code instead of a bare TCP reset.
			conn, err := s.upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			msg := websocket.FormatCloseMessage(closeInvalidToken, "invalid token")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			conn.Close()
			return
		}
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()[:8]
	log.Info("[%s] client connected from %s", connID, r.RemoteAddr)
	defer log.Info("[%s] client disconnected", connID)

	if err := s.pushState(r.Context(), conn); err != nil {
		log.Warn("[%s] initial state push failed: %v", connID, err)
		return
	}
	s.readLoop(r.Context(), conn, connID)
}

// pushState sends a fresh multiplexer snapshot plus the context document,
// initializing the document on first contact.
func (s *Server) pushState(ctx context.Context, conn *websocket.Conn) error {
	if !s.store.Exists() {
		if _, err := s.store.Init(""); err != nil {
			logging.Get(logging.CategoryServer).Warn("context init failed: %v", err)
		}
	}
	doc, err := s.store.Load()
	if err != nil {
		logging.Get(logging.CategoryServer).Warn("context load failed: %v", err)
	}
	snap := s.runner.TakeSnapshot(ctx, s.cfg.Tmux.CaptureLines)
	return conn.WriteJSON(stateMessage{Type: "state", State: snap.Render(), Context: doc})
}

// readLoop handles one authenticated connection until it drops or a write
// fails. Messages are processed sequentially so turn effects stay ordered.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, connID string) {
	log := logging.Get(logging.CategoryServer)
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("[%s] read ended: %v", connID, err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			if err := conn.WriteJSON(pongMessage{Type: "pong", TS: msg.TS}); err != nil {
				return
			}
		case "cmd":
			if err := s.handleTurn(ctx, conn, connID, &msg); err != nil {
				if errors.Is(err, errDelivery) || ctx.Err() != nil {
					log.Warn("[%s] turn aborted, connection broken: %v", connID, err)
					return
				}
				// Internal failure: report it and stay open for the
				// next turn.
				log.Warn("[%s] turn failed: %v", connID, err)
				if werr := conn.WriteJSON(errorMessage{Type: "error", Message: "internal error"}); werr != nil {
					return
				}
			}
		default:
			if err := conn.WriteJSON(errorMessage{Type: "error", Message: fmt.Sprintf("unknown message type %q", msg.Type)}); err != nil {
				return
			}
		}
	}
}

// handleTurn runs one websocket command turn. A panic inside the turn is
// converted to an error so the read loop can report it and keep serving.
func (s *Server) handleTurn(ctx context.Context, conn *websocket.Conn, connID string, msg *clientMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()

	_, _, err = s.runTurn(ctx, connID, msg.toRequest(connID), turnSinks{
		display: func(text string, latencyMS int64) error {
			return conn.WriteJSON(displayMessage{Type: "display", Text: text, LatencyMS: latencyMS})
		},
		state: func(state, contextText string) error {
			return conn.WriteJSON(stateMessage{Type: "state", State: state, Context: contextText})
		},
	})
	return err
}

// handleCmd is the plain-HTTP fallback: one synchronous turn, result in the
// response body. It shares runTurn with the websocket path.
func (s *Server) handleCmd(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !s.tokenOK(r.FormValue("token")) {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	req := &translate.Request{Text: r.FormValue("text")}
	res, latencyMS, err := s.runTurn(r.Context(), "http", req, turnSinks{})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		*translate.Result
		LatencyMS int64 `json:"latency_ms"`
	}{res, latencyMS})
}
