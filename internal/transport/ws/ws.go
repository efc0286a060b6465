// Package ws is the socket-stream face of the gateway. Each connection
// is a fanout channel: it subscribes to jobs and receives their events
// as typed JSON messages, and can submit, cancel and poll jobs inline.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"promptgate/internal/fanout"
	"promptgate/internal/jobs"
	"promptgate/internal/optimize"
	"promptgate/internal/orchestrator"
	"promptgate/internal/transport/httpapi"
	"promptgate/pkg/logx"
)

// Inbound message types.
const (
	msgOptimize  = "optimize"
	msgSubscribe = "subscribe_job"
	msgCancel    = "cancel_job"
	msgPing      = "ping"
)

// Outbound message types not already defined by the orchestrator's
// event names.
const (
	msgCachedResult = "cached_result"
	msgJobStatus    = "job_status"
	msgPong         = "pong"
	msgError        = "error"
)

type inbound struct {
	Type    string            `json:"type"`
	JobID   string            `json:"job_id,omitempty"`
	Request *optimize.Request `json:"request,omitempty"`
}

type outbound struct {
	Type        string           `json:"type"`
	JobID       string           `json:"job_id,omitempty"`
	Status      string           `json:"status,omitempty"`
	Progress    int              `json:"progress,omitempty"`
	CurrentStep string           `json:"current_step,omitempty"`
	Result      *optimize.Result `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

type Config struct {
	// SendBuffer is the per-connection outbound queue. A connection
	// that cannot drain it is considered dead and evicted.
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
}

type Handler struct {
	cfg  Config
	orch *orchestrator.Orchestrator
	hub  *fanout.Hub
	log  logx.Logger

	upgrader websocket.Upgrader
}

func NewHandler(cfg Config, orch *orchestrator.Orchestrator, hub *fanout.Hub, log logx.Logger) *Handler {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 90 * time.Second
	}
	return &Handler{
		cfg:  cfg,
		orch: orch,
		hub:  hub,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	s := &session{
		id:       uuid.NewString(),
		conn:     conn,
		out:      make(chan outbound, h.cfg.SendBuffer),
		done:     make(chan struct{}),
		identity: httpapi.Identity(r.Context()),
		h:        h,
	}
	h.log.Debug("websocket connected", logx.String("session", s.id), logx.String("identity", s.identity))
	go s.writeLoop()
	s.readLoop(r.Context())
}

// session is one live connection. It satisfies fanout.Channel, so the
// hub pushes job events straight into its outbound queue.
type session struct {
	id       string
	conn     *websocket.Conn
	out      chan outbound
	done     chan struct{}
	identity string
	h        *Handler
}

func (s *session) ID() string { return s.id }

// Send implements fanout.Channel. It never blocks: a full queue means
// the client stopped reading and the hub should drop us.
func (s *session) Send(event string, payload any) error {
	msg := outbound{Type: event, Timestamp: time.Now()}
	if j, ok := payload.(jobs.Job); ok {
		msg.JobID = j.ID
		msg.Status = string(j.Status)
		msg.Progress = j.Progress
		msg.CurrentStep = j.CurrentStep
		msg.Result = j.Result
		if j.Error != nil {
			msg.Error = j.Error.Error()
		}
	}
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.out <- msg:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(s.h.cfg.WriteTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.h.log.Debug("websocket write failed", logx.String("session", s.id), logx.Err(err))
				s.conn.Close()
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer func() {
		close(s.done)
		s.h.hub.Drop(s)
		s.conn.Close()
		s.h.log.Debug("websocket disconnected", logx.String("session", s.id))
	}()

	s.conn.SetReadLimit(1 << 20)
	s.conn.SetReadDeadline(time.Now().Add(s.h.cfg.PongTimeout))

	for {
		var msg inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.h.cfg.PongTimeout))
		s.dispatch(ctx, msg)
	}
}

func (s *session) dispatch(ctx context.Context, msg inbound) {
	switch msg.Type {
	case msgPing:
		s.Send(msgPong, nil)
	case msgSubscribe:
		s.subscribe(msg.JobID)
	case msgCancel:
		s.cancel(msg.JobID)
	case msgOptimize:
		if msg.Request == nil {
			s.sendError("", "optimize message requires a request object")
			return
		}
		// Submissions run off the read loop so a slow sync optimization
		// does not block pings and cancels.
		go s.submit(ctx, *msg.Request)
	default:
		s.sendError(msg.JobID, "unknown message type "+msg.Type)
	}
}

func (s *session) subscribe(jobID string) {
	j, err := s.h.orch.Status(jobID)
	if err != nil {
		s.sendError(jobID, "job not found")
		return
	}
	s.h.hub.Subscribe(jobID, s)
	s.Send(msgJobStatus, j)
}

func (s *session) cancel(jobID string) {
	j, err := s.h.orch.Cancel(jobID)
	if err != nil {
		s.sendError(jobID, err.Error())
		return
	}
	// The hub already broadcast job_cancelled to subscribers; answer the
	// caller directly in case it never subscribed.
	s.Send(orchestrator.EventJobCancelled, j)
}

func (s *session) submit(ctx context.Context, req optimize.Request) {
	// The session rides along as a subscriber: the orchestrator registers
	// it before the job reaches the pool, so job_started and every
	// milestone land in our queue instead of racing the workers.
	sub, err := s.h.orch.Submit(ctx, s.identity, req, s)
	if err != nil {
		s.sendError("", err.Error())
		return
	}
	switch {
	case sub.Cached:
		s.Send(msgCachedResult, jobs.Job{Status: jobs.StatusCompleted, Progress: 100, Result: sub.Result})
	case sub.Async:
		// job_started and all later events arrive through the hub.
	default:
		// Sync run: the hub already streamed the events, including the
		// terminal one, while Submit was blocking. Nothing more will be
		// published for this job.
		s.h.hub.Unsubscribe(sub.Job.ID, s)
	}
}

func (s *session) sendError(jobID, message string) {
	msg := outbound{Type: msgError, JobID: jobID, Error: message, Timestamp: time.Now()}
	select {
	case <-s.done:
	case s.out <- msg:
	default:
	}
}

var _ fanout.Channel = (*session)(nil)
