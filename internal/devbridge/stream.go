package devbridge

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/opensandbox/ptyctl/internal/auth"
	"github.com/opensandbox/ptyctl/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sub *subscriber) send(f types.StreamFrame) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.writeLocked(f)
}

func (sub *subscriber) writeLocked(f types.StreamFrame) {
	_ = sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := sub.conn.WriteJSON(f); err != nil {
		log.Printf("devbridge: stream write: %v", err)
	}
}

func textFrame(typ, sessionID, text string) types.StreamFrame {
	raw, _ := json.Marshal(text)
	return types.StreamFrame{Type: typ, SessionID: sessionID, Payload: raw}
}

func objectFrame(typ, sessionID string, v interface{}) types.StreamFrame {
	raw, _ := json.Marshal(v)
	return types.StreamFrame{Type: typ, SessionID: sessionID, Payload: raw}
}

// stream serves the bridge WebSocket: auth, then subscribe to any number of
// sessions, type into them and receive their output.
func (s *Server) stream(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	sub := &subscriber{conn: ws}
	authed := s.token == ""
	joined := make(map[string]*session)
	defer func() {
		for _, sess := range joined {
			sess.mu.Lock()
			delete(sess.subs, sub)
			sess.mu.Unlock()
		}
	}()

	for {
		var req types.StreamRequest
		if err := ws.ReadJSON(&req); err != nil {
			return nil
		}
		p := req.Payload
		if p == nil {
			p = &types.StreamPayload{}
		}

		if req.Type == types.FrameAuth {
			authed = auth.ValidToken(s.token, p.Token)
			sub.send(types.StreamFrame{Type: types.FrameAuth, Success: authed})
			continue
		}
		if !authed {
			sub.send(textFrame(types.FrameError, "", "Not authenticated"))
			continue
		}

		switch req.Type {
		case types.FramePing:
			sub.send(types.StreamFrame{Type: types.FramePong})

		case types.FrameSubscribe:
			sess, ok := s.session(p.SessionID)
			if !ok {
				sub.send(textFrame(types.FrameError, p.SessionID, "Session not found"))
				continue
			}
			sess.mu.Lock()
			sess.subs[sub] = struct{}{}
			buffer := sess.buf.String()
			// hold the subscriber until the history is written so live
			// output cannot overtake it
			sub.mu.Lock()
			sess.mu.Unlock()
			sub.writeLocked(textFrame(types.FrameBuffer, p.SessionID, buffer))
			sub.mu.Unlock()
			joined[p.SessionID] = sess

		case types.FrameUnsubscribe:
			if sess, ok := joined[p.SessionID]; ok {
				sess.mu.Lock()
				delete(sess.subs, sub)
				sess.mu.Unlock()
				delete(joined, p.SessionID)
			}

		case types.FrameInput:
			sess, ok := s.session(p.SessionID)
			if !ok {
				sub.send(textFrame(types.FrameError, p.SessionID, "Session not found"))
				continue
			}
			if err := sess.term.Write(p.Data); err != nil {
				sub.send(textFrame(types.FrameError, p.SessionID, err.Error()))
			}

		case types.FrameResize:
			sess, ok := s.session(p.SessionID)
			if !ok {
				sub.send(textFrame(types.FrameError, p.SessionID, "Session not found"))
				continue
			}
			if err := sess.term.Resize(p.Cols, p.Rows); err != nil {
				sub.send(textFrame(types.FrameError, p.SessionID, err.Error()))
			}

		default:
			sub.send(textFrame(types.FrameError, "", "Unknown message type: "+req.Type))
		}
	}
}
