// Package devbridge is a local PTY bridge speaking the same HTTP and
// WebSocket contract as the production bridge. Sessions run either a real
// shell on a pseudo-terminal or an in-memory POSIX emulator.
package devbridge

import (
	"context"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/ptyctl/internal/auth"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// DefaultMachineID is registered by New so sessions can be created without setup.
const DefaultMachineID = "local"

// maxChunks is the number of output chunks a session keeps for ReadChunks.
const maxChunks = 10000

// Server holds the bridge state and its echo router.
type Server struct {
	echo    *echo.Echo
	backend Backend
	token   string

	// BufferLimit caps the stored buffer per session in bytes. When exceeded
	// the oldest half is dropped. Zero means unlimited.
	BufferLimit int

	// ReadChunks makes GET /api/sessions/:id return only the last N output
	// chunks, the way the production bridge serves its buffer. Zero returns
	// the whole buffer. Set it before serving.
	ReadChunks int

	mu       sync.RWMutex
	machines map[string]types.Machine
	sessions map[string]*session
}

// New creates a bridge with all routes configured. An empty token disables auth.
func New(backend Backend, token string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		backend:  backend,
		token:    token,
		machines: make(map[string]types.Machine),
		sessions: make(map[string]*session),
	}

	hostname, _ := os.Hostname()
	s.AddMachine(types.Machine{
		ID:        DefaultMachineID,
		Name:      "local",
		Hostname:  hostname,
		Status:    "online",
		LastSeen:  time.Now().Unix(),
		CreatedAt: time.Now().Unix(),
	})

	e.Use(middleware.Recover())

	// Health check (no auth)
	e.GET("/api/health", s.health)

	// The stream authenticates with an auth frame
	e.GET("/ws", s.stream)

	api := e.Group("/api")
	api.Use(auth.TokenMiddleware(token))

	api.GET("/machines", s.listMachines)

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.POST("/sessions/:id/input", s.sendInput)
	api.POST("/sessions/:id/resize", s.resize)
	api.DELETE("/sessions/:id", s.closeSession)

	return s
}

// EnableRequestLog turns on echo's request logger.
func (s *Server) EnableRequestLog() {
	s.echo.Use(middleware.Logger())
}

// Handler returns the HTTP handler, for httptest servers.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Printf("devbridge: listening on %s", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the HTTP server and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.CloseAll()
	return s.echo.Shutdown(ctx)
}

// AddMachine registers a machine.
func (s *Server) AddMachine(m types.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[m.ID] = m
}

// Buffer returns the raw buffer of a session.
func (s *Server) Buffer(id string) (string, bool) {
	sess, ok := s.session(id)
	if !ok {
		return "", false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.buf.String(), true
}

// CloseAll terminates every session.
func (s *Server) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.term.Close()
	}
}

func (s *Server) session(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, types.Health{
		Status:    "ok",
		Mode:      "dev",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) listMachines(c echo.Context) error {
	s.mu.RLock()
	machines := make([]types.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	s.mu.RUnlock()

	sort.Slice(machines, func(i, j int) bool { return machines[i].ID < machines[j].ID })
	return c.JSON(http.StatusOK, machines)
}

func (s *Server) listSessions(c echo.Context) error {
	machineID := c.QueryParam("machine")

	s.mu.RLock()
	list := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		info := sess.snapshot()
		if info.Status != types.SessionActive {
			continue
		}
		if machineID != "" && info.MachineID != machineID {
			continue
		}
		list = append(list, info)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createSession(c echo.Context) error {
	var req types.SessionCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
	}
	if req.MachineID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "machine_id is required",
		})
	}

	s.mu.RLock()
	_, ok := s.machines[req.MachineID]
	s.mu.RUnlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Machine not found",
		})
	}

	if req.Command == "" {
		req.Command = req.Shell
	}
	sess := &session{
		limit: s.BufferLimit,
		subs:  make(map[*subscriber]struct{}),
		info: types.Session{
			ID:        uuid.New().String(),
			MachineID: req.MachineID,
			AgentID:   req.AgentID,
			Command:   req.Command,
			Cwd:       req.Cwd,
			Status:    types.SessionActive,
			CreatedAt: time.Now().UnixMilli(),
		},
	}

	term, err := s.backend.Start(req, sess)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	sess.term = term

	s.mu.Lock()
	s.sessions[sess.info.ID] = sess
	s.mu.Unlock()

	log.Printf("devbridge: session %s created on %s", sess.info.ID, req.MachineID)
	return c.JSON(http.StatusCreated, sess.snapshot())
}

func (s *Server) getSession(c echo.Context) error {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Session not found",
		})
	}
	info := sess.snapshot()
	info.Buffer = sess.buffer(s.ReadChunks)
	return c.JSON(http.StatusOK, info)
}

func (s *Server) sendInput(c echo.Context) error {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Session not found",
		})
	}

	var req types.InputRequest
	if err := c.Bind(&req); err != nil || req.Data == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "data is required",
		})
	}

	if err := sess.term.Write(req.Data); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, types.Ack{Status: "ok"})
}

func (s *Server) resize(c echo.Context) error {
	sess, ok := s.session(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Session not found",
		})
	}

	var req types.ResizeRequest
	if err := c.Bind(&req); err != nil || req.Cols <= 0 || req.Rows <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "cols and rows are required",
		})
	}

	if err := sess.term.Resize(req.Cols, req.Rows); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, types.Ack{Status: "ok"})
}

func (s *Server) closeSession(c echo.Context) error {
	id := c.Param("id")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "Session not found",
		})
	}

	_ = sess.term.Close()
	log.Printf("devbridge: session %s closed", id)
	return c.JSON(http.StatusOK, types.Ack{Status: "closed"})
}

// session is one PTY and everything written to it.
type session struct {
	limit int
	term  Terminal

	mu     sync.Mutex
	info   types.Session
	buf    strings.Builder
	chunks []string
	subs   map[*subscriber]struct{}
}

func (s *session) snapshot() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// buffer returns the last n output chunks joined, or the whole buffer when
// n is zero.
func (s *session) buffer(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return s.buf.String()
	}
	if len(s.chunks) > n {
		return strings.Join(s.chunks[len(s.chunks)-n:], "")
	}
	return strings.Join(s.chunks, "")
}

// Output implements Sink.
func (s *session) Output(data string) {
	s.mu.Lock()
	s.buf.WriteString(data)
	if s.limit > 0 && s.buf.Len() > s.limit {
		kept := trimBuffer(s.buf.String(), s.limit/2)
		s.buf.Reset()
		s.buf.WriteString(kept)
	}
	s.chunks = append(s.chunks, data)
	if len(s.chunks) > maxChunks {
		s.chunks = append([]string(nil), s.chunks[len(s.chunks)-maxChunks/2:]...)
	}
	subs := s.subscribers()
	id := s.info.ID
	s.mu.Unlock()

	for _, sub := range subs {
		sub.send(textFrame(types.FrameOutput, id, data))
	}
}

// Exit implements Sink.
func (s *session) Exit(code int) {
	s.mu.Lock()
	s.info.Status = types.SessionClosed
	s.info.ClosedAt = time.Now().UnixMilli()
	subs := s.subscribers()
	id := s.info.ID
	s.mu.Unlock()

	for _, sub := range subs {
		sub.send(objectFrame(types.FrameExit, id, map[string]int{"code": code}))
	}
}

func (s *session) subscribers() []*subscriber {
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	return subs
}

// trimBuffer keeps at most n trailing bytes of s, starting on a rune boundary.
func trimBuffer(s string, n int) string {
	cut := len(s) - n
	if cut < 0 {
		cut = 0
	}
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}
