// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/AIDungeonMaster/internal/errors"
	"github.com/Corphon/AIDungeonMaster/internal/llm"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
)

// Narration sources.
const (
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

const (
	defaultNarrationTimeout = 8 * time.Second
	narrationCacheSize      = 256
	narratorSystemPrompt    = "You are the narrator of a fantasy role-playing game. Write vivid second-person prose in at most three short paragraphs. Never invent game mechanics, numbers or choices."
)

// ErrLLMNotReady is the upstream error used when no provider is configured.
var ErrLLMNotReady = errors.New("llm service not ready")

// Narration is generated prose. When the oracle failed, Text holds the static
// fallback and Upstream carries the failure as a value.
type Narration struct {
	Text     string             `json:"text"`
	Source   string             `json:"source"`
	Upstream *apperrors.AppError `json:"-"`
}

// Degraded reports whether the fallback text was used.
func (n Narration) Degraded() bool {
	return n.Upstream != nil
}

// LLMService wraps the configured provider with a timeout, a response cache
// and fallback text.
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	model         string
	timeout       time.Duration

	cache      map[string]string
	cacheOrder []string
	cacheMutex sync.Mutex

	logger  *utils.Logger
	metrics *utils.GameMetrics
}

// NewLLMService builds the narrator around provider; provider may be nil.
func NewLLMService(provider llm.Provider, providerName, model string, timeout time.Duration, logger *utils.Logger, metrics *utils.GameMetrics) *LLMService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if timeout <= 0 {
		timeout = defaultNarrationTimeout
	}
	return &LLMService{
		provider:     provider,
		providerName: providerName,
		model:        model,
		timeout:      timeout,
		cache:        make(map[string]string),
		logger:       logger,
		metrics:      metrics,
	}
}

// NewEmptyLLMService returns a narrator that always falls back.
func NewEmptyLLMService() *LLMService {
	return NewLLMService(nil, "", "", 0, nil, nil)
}

// IsReady reports whether a provider is configured.
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetProviderName returns the active provider name.
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider swaps the provider using the registry.
func (s *LLMService) UpdateProvider(registry *llm.Registry, providerName string, config map[string]string) error {
	if registry == nil {
		registry = llm.DefaultRegistry
	}
	provider, err := registry.GetProvider(providerName, config)
	if err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("provider %q", providerName), err)
	}

	s.providerMutex.Lock()
	s.provider = provider
	s.providerName = providerName
	s.model = config["default_model"]
	s.providerMutex.Unlock()

	s.cacheMutex.Lock()
	s.cache = make(map[string]string)
	s.cacheOrder = nil
	s.cacheMutex.Unlock()

	s.logger.Info("llm provider updated", map[string]interface{}{
		"provider": providerName,
		"model":    config["default_model"],
	})
	return nil
}

func cacheKey(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (s *LLMService) cached(key string) (string, bool) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	text, ok := s.cache[key]
	return text, ok
}

func (s *LLMService) remember(key, text string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if _, ok := s.cache[key]; ok {
		return
	}
	s.cache[key] = text
	s.cacheOrder = append(s.cacheOrder, key)
	if len(s.cacheOrder) > narrationCacheSize {
		delete(s.cache, s.cacheOrder[0])
		s.cacheOrder = s.cacheOrder[1:]
	}
}

// Generate asks the oracle for prose. It never fails: on timeout, error or
// missing provider it returns fallback with the upstream failure attached.
func (s *LLMService) Generate(ctx context.Context, prompt, fallback string) Narration {
	start := time.Now()

	s.providerMutex.RLock()
	provider, name, model := s.provider, s.providerName, s.model
	s.providerMutex.RUnlock()

	if provider == nil {
		return s.fallback(fallback, apperrors.NewUpstreamError("no llm provider configured", ErrLLMNotReady), start)
	}

	key := cacheKey(name, model, prompt)
	if text, ok := s.cached(key); ok {
		return Narration{Text: text, Source: SourceLLM}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := provider.CompleteText(callCtx, llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: narratorSystemPrompt,
		Model:        model,
		MaxTokens:    400,
		Temperature:  0.8,
	})
	if err != nil {
		msg := "llm call failed"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = "llm call timed out"
		}
		return s.fallback(fallback, apperrors.NewUpstreamError(msg, err), start)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return s.fallback(fallback, apperrors.NewUpstreamError("llm returned empty text", nil), start)
	}

	s.remember(key, text)
	if s.metrics != nil {
		s.metrics.RecordNarration(false, time.Since(start))
	}
	return Narration{Text: text, Source: SourceLLM}
}

func (s *LLMService) fallback(text string, upstream *apperrors.AppError, start time.Time) Narration {
	if s.metrics != nil {
		s.metrics.RecordNarration(true, time.Since(start))
	}
	s.logger.Warn("narration fell back to static text", map[string]interface{}{
		"reason": upstream.Error(),
	})
	return Narration{Text: text, Source: SourceFallback, Upstream: upstream}
}

// NarrateScene enriches a node; the fallback is the node text itself.
func (s *LLMService) NarrateScene(ctx context.Context, scene Scene, character *models.Character) Narration {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scene: %s\n%s\n", scene.Title, scene.Description)
	if scene.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", scene.Location)
	}
	if character != nil {
		fmt.Fprintf(&sb, "Hero: %s, level %d %s, %d/%d hp\n", character.Name, character.Level, character.Class, character.Stats.HP, character.Stats.MaxHP)
	}
	for _, ev := range scene.Events {
		fmt.Fprintf(&sb, "Event: %s\n", ev.Alert())
	}
	sb.WriteString("Describe this moment.")
	return s.Generate(ctx, sb.String(), scene.Description)
}

// NarrateDialogue voices an NPC reacting to the player's action.
func (s *LLMService) NarrateDialogue(ctx context.Context, view models.NPCPublicView, action, fallback string) Narration {
	prompt := fmt.Sprintf("%s, a %s %s, is %s. Their attitude toward the hero: %s. The hero chose to %q. Write their spoken reply in one or two sentences.",
		view.Name, view.Personality, view.Role, view.Mood, view.RelationshipStatus, action)
	return s.Generate(ctx, prompt, fallback)
}

// NarrateCombat summarizes a finished fight.
func (s *LLMService) NarrateCombat(ctx context.Context, outcome string, tail []models.CombatLogEntry, fallback string) Narration {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The battle ended in %s. Final exchanges:\n", outcome)
	for _, e := range tail {
		sb.WriteString(e.Message)
		sb.WriteByte('\n')
	}
	sb.WriteString("Summarize the aftermath in two sentences.")
	return s.Generate(ctx, sb.String(), fallback)
}
