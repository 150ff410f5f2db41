package api

import (
	stdctx "context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripcraft/planner/model"
	"github.com/tripcraft/planner/orchestrator"
)

type fakeService struct {
	sessions map[string]*model.ConversationSession
	reply    *orchestrator.Reply
}

func newFakeService() *fakeService {
	return &fakeService{sessions: make(map[string]*model.ConversationSession)}
}

func (f *fakeService) CreateSession() string {
	id := fmt.Sprintf("sess-%d", len(f.sessions)+1)
	f.sessions[id] = &model.ConversationSession{SessionID: id, State: model.StateIdle}
	return id
}

func (f *fakeService) Message(ctx stdctx.Context, sessionID, text string) (*orchestrator.Reply, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return f.reply, nil
}

func (f *fakeService) Feedback(ctx stdctx.Context, sessionID, text string) (*orchestrator.Reply, error) {
	return f.Message(ctx, sessionID, text)
}

func (f *fakeService) Reset(sessionID string) error {
	if _, ok := f.sessions[sessionID]; !ok {
		return fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	f.sessions[sessionID].State = model.StateIdle
	return nil
}

func (f *fakeService) Snapshot(sessionID string) (*model.ConversationSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %s", sessionID)
	}
	return s, nil
}

func testReply() *orchestrator.Reply {
	return &orchestrator.Reply{
		Text:  "here is the plan",
		State: model.StateReady,
		Itinerary: &model.Itinerary{
			Version: 1,
			Days: []model.DayPlan{{
				DayIndex: 0,
				Date:     time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
				Visits: []model.Visit{
					{PlaceID: "A", Name: "Place A", ETAMin: 545, ETDMin: 605, TravelMinIn: 5, StayMin: 60},
				},
			}},
		},
		AppliedOps: []model.FeedbackOperation{{Op: model.OpDrop, TargetPlaceID: "B"}},
	}
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestCreateSession(t *testing.T) {
	srv := NewServer(newFakeService())
	rec := doRequest(t, srv, http.MethodPost, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])
}

func TestMessageSerializesItinerary(t *testing.T) {
	svc := newFakeService()
	svc.reply = testReply()
	srv := NewServer(svc)
	id := svc.CreateSession()

	rec := doRequest(t, srv, http.MethodPost, "/session/"+id+"/message", `{"text":"one day in taipei"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Reply     string `json:"reply"`
		State     string `json:"state"`
		Itinerary struct {
			Days []struct {
				Day    int    `json:"day"`
				Date   string `json:"date"`
				Visits []struct {
					PlaceID       string `json:"place_id"`
					ETA           string `json:"eta"`
					ETD           string `json:"etd"`
					TravelMinutes int    `json:"travel_minutes"`
					StayMinutes   int    `json:"stay_minutes"`
				} `json:"visits"`
			} `json:"days"`
		} `json:"itinerary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "here is the plan", resp.Reply)
	assert.Equal(t, "READY", resp.State)
	require.Len(t, resp.Itinerary.Days, 1)
	require.Len(t, resp.Itinerary.Days[0].Visits, 1)
	assert.Equal(t, "09:05", resp.Itinerary.Days[0].Visits[0].ETA)
	assert.Equal(t, "10:05", resp.Itinerary.Days[0].Visits[0].ETD)
	assert.Equal(t, "2025-11-01", resp.Itinerary.Days[0].Date)
}

func TestMessageRequiresText(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)
	id := svc.CreateSession()

	rec := doRequest(t, srv, http.MethodPost, "/session/"+id+"/message", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownSessionIs404(t *testing.T) {
	svc := newFakeService()
	svc.reply = testReply()
	srv := NewServer(svc)

	rec := doRequest(t, srv, http.MethodPost, "/session/ghost/message", `{"text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackReturnsAppliedOps(t *testing.T) {
	svc := newFakeService()
	svc.reply = testReply()
	srv := NewServer(svc)
	id := svc.CreateSession()

	rec := doRequest(t, srv, http.MethodPost, "/session/"+id+"/feedback", `{"text":"drop B"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AppliedOps []struct {
			Op       string `json:"op"`
			TargetID string `json:"target_id"`
		} `json:"applied_ops"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.AppliedOps, 1)
	assert.Equal(t, "DROP", resp.AppliedOps[0].Op)
	assert.Equal(t, "B", resp.AppliedOps[0].TargetID)
}

func TestStateSnapshot(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)
	id := svc.CreateSession()
	svc.sessions[id].TurnCounter = 3
	svc.sessions[id].State = model.StateReady

	rec := doRequest(t, srv, http.MethodGet, "/session/"+id+"/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID   string `json:"session_id"`
		State       string `json:"state"`
		TurnCounter int    `json:"turn_counter"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, "READY", resp.State)
	assert.Equal(t, 3, resp.TurnCounter)
}

func TestReset(t *testing.T) {
	svc := newFakeService()
	srv := NewServer(svc)
	id := svc.CreateSession()

	rec := doRequest(t, srv, http.MethodPost, "/session/"+id+"/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/session/ghost/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
