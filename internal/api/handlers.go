// internal/api/handlers.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/config"
	"github.com/Corphon/AIDungeonMaster/internal/llm"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/services"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler serves the game commands over HTTP.
type Handler struct {
	Game       *services.GameService
	Config     *config.Manager
	Metrics    *utils.GameMetrics
	WebSockets *WebSocketManager
	Response   *ResponseHelper
	logger     *utils.Logger
	startedAt  time.Time
}

func NewHandler(game *services.GameService, cfg *config.Manager, metrics *utils.GameMetrics, logger *utils.Logger) *Handler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Handler{
		Game:       game,
		Config:     cfg,
		Metrics:    metrics,
		WebSockets: NewWebSocketManager(game.Events(), logger),
		Response:   NewResponseHelper(logger),
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// bind decodes the JSON body and writes 400 on failure.
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return false
	}
	return true
}

// ------------------------------------------------
// service

// Health reports liveness and the number of live sessions.
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":          "ok",
		"active_sessions": h.Game.ActiveSessions(),
		"uptime_seconds":  int(time.Since(h.startedAt).Seconds()),
		"llm_ready":       h.Game.Narrator().IsReady(),
	})
}

// GetMetrics returns a snapshot of every counter, gauge and histogram.
func (h *Handler) GetMetrics(c *gin.Context) {
	if h.Metrics == nil {
		h.Response.Success(c, utils.MetricsSnapshot{})
		return
	}
	h.Response.Success(c, h.Metrics.Collector().Snapshot())
}

// ListScenarios returns the loaded scenarios.
func (h *Handler) ListScenarios(c *gin.Context) {
	h.Response.Success(c, h.Game.Scenarios())
}

// ------------------------------------------------
// characters and dice

type CreateCharacterRequest struct {
	Name  string         `json:"name" binding:"required"`
	Class models.ClassID `json:"class" binding:"required"`
}

func (h *Handler) CreateCharacter(c *gin.Context) {
	var req CreateCharacterRequest
	if !h.bind(c, &req) {
		return
	}
	character, err := h.Game.CreateCharacter(req.Name, req.Class)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, character)
}

func (h *Handler) GetSkillTree(c *gin.Context) {
	tree, err := h.Game.SkillTree(models.ClassID(c.Param("class")))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, tree)
}

type RollDiceRequest struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind" binding:"required"`
	Modifier  int    `json:"modifier"`
}

func (h *Handler) RollDice(c *gin.Context) {
	var req RollDiceRequest
	if !h.bind(c, &req) {
		return
	}
	res, err := h.Game.RollDice(c.Request.Context(), req.SessionID, req.Kind, req.Modifier)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, res)
}

// ------------------------------------------------
// sessions and story

type StartSessionRequest struct {
	ScenarioID string   `json:"scenario_id" binding:"required"`
	Party      []string `json:"party" binding:"required"`
}

func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.StartSession(c.Request.Context(), req.ScenarioID, req.Party)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, out)
}

func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Game.SessionState(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

func (h *Handler) EndSession(c *gin.Context) {
	if err := h.Game.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"session_id": c.Param("id")}, "session ended")
}

type ChoiceRequest struct {
	// pointer so a missing index is not read as choice 0
	Index *int `json:"index" binding:"required"`
}

func (h *Handler) ApplyChoice(c *gin.Context) {
	var req ChoiceRequest
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.ApplyChoice(c.Request.Context(), c.Param("id"), *req.Index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

type UseItemRequest struct {
	Index *int `json:"index" binding:"required"`
}

func (h *Handler) UseItem(c *gin.Context) {
	var req UseItemRequest
	if !h.bind(c, &req) {
		return
	}
	out, warnings, err := h.Game.UseItem(c.Request.Context(), c.Param("id"), *req.Index)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.SuccessWithWarnings(c, out, warnings)
}

// ------------------------------------------------
// combat

type StartCombatRequest struct {
	EnemyIDs []string `json:"enemy_ids"`
}

func (h *Handler) StartCombat(c *gin.Context) {
	var req StartCombatRequest
	// an empty body fights the current node's encounter
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	cs, warnings, err := h.Game.StartCombat(c.Request.Context(), c.Param("id"), req.EnemyIDs)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, cs, warnings...)
}

func (h *Handler) CombatActions(c *gin.Context) {
	out, err := h.Game.CombatActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

func (h *Handler) CombatAction(c *gin.Context) {
	var req models.CombatAction
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.CombatAction(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

// ------------------------------------------------
// npcs and karma

type InteractRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) NPCInteract(c *gin.Context) {
	var req InteractRequest
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.NPCInteract(c.Request.Context(), c.Param("id"), c.Param("npc"), req.Action)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

func (h *Handler) RecordDecision(c *gin.Context) {
	var req models.Decision
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.RecordDecision(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

func (h *Handler) QueryRelationship(c *gin.Context) {
	out, err := h.Game.QueryRelationship(c.Request.Context(), c.Param("id"), c.Param("npc"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

func (h *Handler) AskForHelp(c *gin.Context) {
	out, err := h.Game.AskForHelp(c.Request.Context(), c.Param("id"), c.Param("npc"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

type AskForItemRequest struct {
	Item string `json:"item" binding:"required"`
}

func (h *Handler) AskForItem(c *gin.Context) {
	var req AskForItemRequest
	if !h.bind(c, &req) {
		return
	}
	out, err := h.Game.AskForItem(c.Request.Context(), c.Param("id"), c.Param("npc"), req.Item)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, out)
}

// ------------------------------------------------
// saves

func (h *Handler) SaveSession(c *gin.Context) {
	saveID, err := h.Game.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, gin.H{"save_id": saveID})
}

func (h *Handler) ListSaves(c *gin.Context) {
	var filter models.SaveFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.Response.BadRequest(c, "invalid filter", err.Error())
		return
	}
	switch filter.Kind {
	case "", models.SaveKindManual, models.SaveKindAuto:
	default:
		h.Response.BadRequest(c, fmt.Sprintf("unknown save kind %q", filter.Kind))
		return
	}
	saves, err := h.Game.ListSaves(c.Request.Context(), filter)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, saves)
}

func (h *Handler) LoadSave(c *gin.Context) {
	sessionID, err := h.Game.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	view, err := h.Game.SessionState(c.Request.Context(), sessionID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

func (h *Handler) DeleteSave(c *gin.Context) {
	if err := h.Game.DeleteSave(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"save_id": c.Param("id")}, "save deleted")
}

// ------------------------------------------------
// llm settings

func (h *Handler) GetLLMStatus(c *gin.Context) {
	narrator := h.Game.Narrator()
	name := narrator.GetProviderName()
	h.Response.Success(c, gin.H{
		"ready":     narrator.IsReady(),
		"provider":  name,
		"providers": llm.ListProviders(),
		"models":    llm.DefaultRegistry.SupportedModels(name),
	})
}

type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider" binding:"required"`
	Config   map[string]string `json:"config"`
}

func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	if h.Config == nil {
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorConfigNotLoaded, "configuration is not loaded")
		return
	}
	var req UpdateLLMConfigRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Game.Narrator().UpdateProvider(nil, req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "provider could not be initialised", err.Error())
		return
	}
	if err := h.Config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.logger.Error("persist llm config failed", map[string]interface{}{"error": err.Error()})
		h.Response.Error(c, http.StatusInternalServerError, ErrorInternalError, "provider updated but not persisted")
		return
	}
	h.Response.Success(c, gin.H{"provider": req.Provider}, "llm provider updated")
}
