// internal/api/router.go
package api

import (
	"github.com/Corphon/AIDungeonMaster/internal/config"
	"github.com/Corphon/AIDungeonMaster/internal/services"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gin-gonic/gin"
)

// RouterOptions wires the HTTP surface.
type RouterOptions struct {
	Game      *services.GameService
	Config    *config.Manager
	Metrics   *utils.GameMetrics
	Logger    *utils.Logger
	RateLimit float64
	RateBurst int
	DebugMode bool
}

// SetupRouter builds the gin engine and the handler behind it.
func SetupRouter(opts RouterOptions) (*gin.Engine, *Handler) {
	if !opts.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}

	handler := NewHandler(opts.Game, opts.Config, opts.Metrics, opts.Logger)
	limiter := NewRateLimiter(opts.RateLimit, opts.RateBurst)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware(opts.Logger, opts.Metrics))
	r.Use(corsMiddleware())

	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	api := r.Group("/api")
	api.Use(limiter.Middleware(handler.Response))
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/scenarios", handler.ListScenarios)
		api.GET("/classes/:class/skills", handler.GetSkillTree)
		api.POST("/characters", handler.CreateCharacter)
		api.POST("/dice/roll", handler.RollDice)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", handler.StartSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.EndSession)
			sessions.POST("/:id/choices", handler.ApplyChoice)
			sessions.POST("/:id/items/use", handler.UseItem)
			sessions.POST("/:id/combat", handler.StartCombat)
			sessions.POST("/:id/decisions", handler.RecordDecision)
			sessions.POST("/:id/saves", handler.SaveSession)

			npcs := sessions.Group("/:id/npcs/:npc")
			{
				npcs.POST("/interact", handler.NPCInteract)
				npcs.GET("/relationship", handler.QueryRelationship)
				npcs.POST("/help", handler.AskForHelp)
				npcs.POST("/items", handler.AskForItem)
			}
		}

		combat := api.Group("/combat/:id")
		{
			combat.GET("/actions", handler.CombatActions)
			combat.POST("/actions", handler.CombatAction)
		}

		saves := api.Group("/saves")
		{
			saves.GET("", handler.ListSaves)
			saves.POST("/:id/load", handler.LoadSave)
			saves.DELETE("/:id", handler.DeleteSave)
		}

		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		api.GET("/ws/status", handler.GetWebSocketStatus)
	}
	return r, handler
}
