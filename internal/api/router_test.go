package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/services"
	"github.com/Corphon/AIDungeonMaster/internal/storage"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strPtr(s string) *string { return &s }

func testScenario() *models.Scenario {
	return &models.Scenario{
		ID:    "cellar",
		Title: "The Cellar",
		StoryNodes: map[string]*models.StoryNode{
			models.StartNodeID: {
				Title:       "Stairs",
				Description: "Stone steps lead down.",
				Choices: []models.Choice{
					{Text: "Descend", NextNode: strPtr("cellar"), Effect: &models.Effect{XP: 5}},
				},
			},
			"cellar": {
				Title:       "Cellar",
				Description: "Barrels and rats.",
				Encounter:   []string{"goblin"},
				Choices:     []models.Choice{{Text: "Leave"}},
			},
		},
	}
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	game    *services.GameService
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()
	store, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("file storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := utils.NewLogger(&bytes.Buffer{}, utils.ERROR)
	metrics := utils.NewGameMetrics(nil, logger)
	game, err := services.NewGameService(services.GameServiceOptions{
		Scenarios: map[string]*models.Scenario{"cellar": testScenario()},
		Saves:     services.NewSaveService(store, logger, 0),
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("game service: %v", err)
	}
	opts.Game = game
	opts.Logger = logger
	opts.Metrics = metrics
	router, handler := SetupRouter(opts)
	return &testServer{router: router, handler: handler, game: game}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Warnings  []string        `json:"warnings"`
	RequestID string          `json:"request_id"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

// startSession creates a warrior and a session over HTTP.
func (s *testServer) startSession(t *testing.T) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/characters", CreateCharacterRequest{Name: "Arin", Class: models.ClassWarrior})
	if code != http.StatusCreated {
		t.Fatalf("create character: %d %+v", code, env.Error)
	}
	var hero models.Character
	decode(t, env.Data, &hero)

	code, env = s.do(t, http.MethodPost, "/api/sessions", StartSessionRequest{ScenarioID: "cellar", Party: []string{hero.ID}})
	if code != http.StatusCreated {
		t.Fatalf("start session: %d %+v", code, env.Error)
	}
	var started services.SessionStart
	decode(t, env.Data, &started)
	if started.Scene.NodeID != models.StartNodeID || started.Narration.Text == "" {
		t.Fatalf("start %+v", started)
	}
	return started.SessionID
}

func TestHealthCarriesRequestID(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("status %d header %q", w.Code, w.Header().Get(requestIDHeader))
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if !env.Success || env.RequestID != "req-42" {
		t.Fatalf("envelope %+v", env)
	}
}

func TestSessionFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.startSession(t)

	code, env := s.do(t, http.MethodPost, "/api/sessions/"+id+"/choices", map[string]int{"index": 0})
	if code != http.StatusOK {
		t.Fatalf("choice: %d %+v", code, env.Error)
	}
	var outcome services.ChoiceOutcome
	decode(t, env.Data, &outcome)
	if outcome.Scene.NodeID != "cellar" || len(outcome.Scene.Encounter) != 1 {
		t.Fatalf("outcome %+v", outcome.Scene)
	}

	code, env = s.do(t, http.MethodPost, "/api/sessions/"+id+"/saves", nil)
	if code != http.StatusCreated {
		t.Fatalf("save: %d %+v", code, env.Error)
	}
	var saved struct {
		SaveID string `json:"save_id"`
	}
	decode(t, env.Data, &saved)

	code, env = s.do(t, http.MethodGet, "/api/saves?kind=manual&session_id="+id, nil)
	var list []models.SaveDescriptor
	decode(t, env.Data, &list)
	if code != http.StatusOK || len(list) != 1 || list[0].SaveID != saved.SaveID {
		t.Fatalf("list: %d %+v", code, list)
	}

	code, env = s.do(t, http.MethodPost, "/api/saves/"+saved.SaveID+"/load", nil)
	var view services.SessionView
	decode(t, env.Data, &view)
	if code != http.StatusOK || view.SessionID != id || view.CurrentNode.NodeID != "cellar" || view.Character.XP != 5 {
		t.Fatalf("load: %d %+v", code, view)
	}

	code, env = s.do(t, http.MethodGet, "/api/metrics", nil)
	var snap utils.MetricsSnapshot
	decode(t, env.Data, &snap)
	if code != http.StatusOK || snap.Counters["commands_apply_choice"] != 1 {
		t.Fatalf("metrics %+v", snap.Counters)
	}
}

func TestErrorsMapToStatusAndCode(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.startSession(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/sessions/session_missing", nil, http.StatusNotFound, apperrors.CodeUnknownSession},
		{"missing index", http.MethodPost, "/api/sessions/" + id + "/choices", map[string]string{}, http.StatusBadRequest, ErrorBadRequest},
		{"unknown choice", http.MethodPost, "/api/sessions/" + id + "/choices", map[string]int{"index": 7}, http.StatusConflict, apperrors.CodeUnknownChoice},
		{"unknown class", http.MethodPost, "/api/characters", CreateCharacterRequest{Name: "X", Class: "bard"}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"bad die", http.MethodPost, "/api/dice/roll", RollDiceRequest{Kind: "d7"}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"bad save kind", http.MethodGet, "/api/saves?kind=weekly", nil, http.StatusBadRequest, ErrorBadRequest},
		{"unknown combat", http.MethodGet, "/api/combat/combat_missing/actions", nil, http.StatusNotFound, apperrors.CodeUnknownSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(t, tt.method, tt.path, tt.body)
			if code != tt.status || env.Success || env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("got %d %+v, want %d %s", code, env.Error, tt.status, tt.code)
			}
		})
	}
}

func TestCombatOverHTTP(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.startSession(t)
	s.do(t, http.MethodPost, "/api/sessions/"+id+"/choices", map[string]int{"index": 0})

	code, env := s.do(t, http.MethodPost, "/api/sessions/"+id+"/combat", nil)
	if code != http.StatusCreated {
		t.Fatalf("start combat: %d %+v", code, env.Error)
	}
	var cs models.CombatSession
	decode(t, env.Data, &cs)

	code, env = s.do(t, http.MethodGet, "/api/combat/"+cs.ID+"/actions", nil)
	var actions services.AvailableActions
	decode(t, env.Data, &actions)
	if code != http.StatusOK || !actions.IsPlayer || len(actions.Actions) == 0 {
		t.Fatalf("actions: %d %+v", code, actions)
	}

	code, env = s.do(t, http.MethodPost, "/api/sessions/"+id+"/choices", map[string]int{"index": 0})
	if code != http.StatusConflict || env.Error.Code != apperrors.CodeCombatActive {
		t.Fatalf("choice during combat: %d %+v", code, env.Error)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, RouterOptions{RateLimit: 0.001, RateBurst: 1})
	if code, _ := s.do(t, http.MethodGet, "/api/health", nil); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	code, env := s.do(t, http.MethodGet, "/api/health", nil)
	if code != http.StatusTooManyRequests || env.Error.Code != ErrorRateLimited {
		t.Fatalf("second request: %d %+v", code, env.Error)
	}
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	rl.lastGC = clock

	rl.Allow("a")
	rl.Allow("b")
	clock = clock.Add(2 * visitorIdleTTL)
	rl.Allow("c")
	if n := rl.Visitors(); n != 1 {
		t.Fatalf("visitors = %d", n)
	}
}

func TestStatusForEveryErrorType(t *testing.T) {
	tests := map[apperrors.ErrorType]int{
		apperrors.ErrorTypeInvalidInput:        http.StatusBadRequest,
		apperrors.ErrorTypeNotFound:            http.StatusNotFound,
		apperrors.ErrorTypePrecondition:        http.StatusConflict,
		apperrors.ErrorTypeInvariant:           http.StatusLocked,
		apperrors.ErrorTypeUpstreamUnavailable: http.StatusBadGateway,
		apperrors.ErrorTypePersistence:         http.StatusServiceUnavailable,
		"":                                     http.StatusInternalServerError,
	}
	for typ, want := range tests {
		if got := statusFor(typ); got != want {
			t.Errorf("statusFor(%q) = %d, want %d", typ, got, want)
		}
	}
	if got := sanitizeErrorMessage("bad api_key sk-123"); strings.Contains(got, "sk-123") {
		t.Fatalf("sanitized %q", got)
	}
}

func TestSessionWebSocketStreamsEvents(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.startSession(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.game.Events().SubscriberCount(id) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := s.game.ApplyChoice(t.Context(), id, 0); err != nil {
		t.Fatalf("apply choice: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev services.GameEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type == services.EventScene {
			if ev.SessionID != id {
				t.Fatalf("event %+v", ev)
			}
			break
		}
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/session_missing", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("dial unknown session: %v", err)
	}
}
