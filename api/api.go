// Package api is the thin HTTP binding of the session API: it translates
// requests into orchestrator turns and itineraries into their JSON wire
// shape, and nothing else. All planning behavior lives behind the Service
// interface.
package api

import (
	stdctx "context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orchestrator"
)

// Service is what the adapter needs from the orchestrator.
type Service interface {
	CreateSession() string
	Message(ctx stdctx.Context, sessionID, text string) (*orchestrator.Reply, error)
	Feedback(ctx stdctx.Context, sessionID, text string) (*orchestrator.Reply, error)
	Reset(sessionID string) error
	Snapshot(sessionID string) (*model.ConversationSession, error)
}

// Server hosts the session routes on an echo instance.
type Server struct {
	svc  Service
	echo *echo.Echo
}

// NewServer builds the echo app with all session routes registered.
func NewServer(svc Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{svc: svc, echo: e}

	e.POST("/session", s.createSession)
	e.POST("/session/:id/message", s.message)
	e.GET("/session/:id/state", s.state)
	e.POST("/session/:id/reset", s.reset)
	e.POST("/session/:id/feedback", s.feedback)

	return s
}

// Echo exposes the underlying echo app for tests and custom serving.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves on addr until the listener fails or is shut down.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx stdctx.Context) error {
	return s.echo.Shutdown(ctx)
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Reply       string         `json:"reply"`
	State       string         `json:"state"`
	Itinerary   *itineraryJSON `json:"itinerary,omitempty"`
	Suggestions []string       `json:"suggestions"`
}

type feedbackResponse struct {
	Reply      string          `json:"reply"`
	Itinerary  *itineraryJSON  `json:"itinerary,omitempty"`
	AppliedOps []appliedOpJSON `json:"applied_ops"`
}

type appliedOpJSON struct {
	Op       string `json:"op"`
	TargetID string `json:"target_id,omitempty"`
	DayIndex int    `json:"day_index"`
}

func (s *Server) createSession(c echo.Context) error {
	id := s.svc.CreateSession()
	return c.JSON(http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) message(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	reply, err := s.svc.Message(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return mapError(err)
	}

	resp := messageResponse{
		Reply:       reply.Text,
		State:       string(reply.State),
		Itinerary:   itineraryToJSON(reply.Itinerary),
		Suggestions: emptyIfNil(reply.Suggestions),
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) feedback(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	reply, err := s.svc.Feedback(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return mapError(err)
	}

	ops := make([]appliedOpJSON, 0, len(reply.AppliedOps))
	for _, op := range reply.AppliedOps {
		ops = append(ops, appliedOpJSON{Op: string(op.Op), TargetID: op.TargetPlaceID, DayIndex: op.DayIndex})
	}
	return c.JSON(http.StatusOK, feedbackResponse{
		Reply:      reply.Text,
		Itinerary:  itineraryToJSON(reply.Itinerary),
		AppliedOps: ops,
	})
}

type stateResponse struct {
	SessionID   string         `json:"session_id"`
	State       string         `json:"state"`
	TurnCounter int            `json:"turn_counter"`
	UserInput   string         `json:"user_input,omitempty"`
	Story       *storyJSON     `json:"story,omitempty"`
	Candidates  int            `json:"candidate_count"`
	Itinerary   *itineraryJSON `json:"itinerary,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (s *Server) state(c echo.Context) error {
	snap, err := s.svc.Snapshot(c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	resp := stateResponse{
		SessionID:   snap.SessionID,
		State:       string(snap.State),
		TurnCounter: snap.TurnCounter,
		UserInput:   snap.Slots.UserInput,
		Story:       storyToJSON(snap.Slots.Story),
		Candidates:  len(snap.Slots.Candidates),
		Itinerary:   itineraryToJSON(snap.Slots.Itinerary),
	}
	if snap.Slots.Error != nil {
		resp.Error = snap.Slots.Error.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) reset(c echo.Context) error {
	if err := s.svc.Reset(c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func mapError(err error) error {
	if strings.Contains(err.Error(), "unknown session") {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
