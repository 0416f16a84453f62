// Package chat orchestrates turns: it runs the policy engine, keeps
// bounded per-conversation history, and writes the interaction audit
// log. It is the layer the HTTP handlers and the CLI talk to.
package chat

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/guardly/dialograils/internal/audit"
	"github.com/guardly/dialograils/internal/provider"
	"github.com/guardly/dialograils/internal/rail"
)

// Exchange is one user/bot pair in a conversation's history.
type Exchange struct {
	User      string    `json:"user"`
	Bot       string    `json:"bot"`
	Decision  string    `json:"decision"`
	Timestamp time.Time `json:"timestamp"`
}

// Service processes turns for any number of conversations. Turns for
// different conversations may run concurrently; history access is the
// only shared state and is guarded here.
type Service struct {
	engine     *rail.Engine
	provider   provider.Provider
	audit      *audit.Logger
	logger     *log.Logger
	maxHistory int

	mu      sync.Mutex
	history map[string][]Exchange
}

// NewService wires the chat service. auditLogger may be nil to disable
// interaction logging. maxHistory bounds the per-conversation history;
// zero or negative falls back to 50.
func NewService(engine *rail.Engine, prov provider.Provider, auditLogger *audit.Logger, maxHistory int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Service{
		engine:     engine,
		provider:   prov,
		audit:      auditLogger,
		logger:     logger,
		maxHistory: maxHistory,
		history:    make(map[string][]Exchange),
	}
}

// Chat processes one user message and returns the turn result. The only
// error it returns is the caller's context cancellation; every runtime
// failure has already been recovered into the fallback utterance.
func (s *Service) Chat(ctx context.Context, conversationID, userInput string) (*rail.Result, error) {
	start := time.Now()

	result, err := s.engine.RunTurn(ctx, userInput)
	if err != nil {
		return nil, err
	}

	s.remember(conversationID, Exchange{
		User:      userInput,
		Bot:       result.Response,
		Decision:  result.Decision,
		Timestamp: time.Now().UTC(),
	})

	if s.audit != nil {
		s.audit.Log(audit.Entry{
			TurnID:        result.TurnID,
			Conversation:  conversationID,
			UserInput:     userInput,
			BotResponse:   result.Response,
			RailTriggered: len(result.Fired) > 0,
			FlowsFired:    firedNames(result),
			Decision:      result.Decision,
			Provider:      s.provider.Name(),
			Latency:       time.Since(start),
		})
	}

	return result, nil
}

func firedNames(result *rail.Result) []string {
	names := make([]string, len(result.Fired))
	for i, f := range result.Fired {
		names[i] = f.Name
	}
	return names
}

func (s *Service) remember(conversationID string, ex Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[conversationID], ex)
	if len(h) > s.maxHistory {
		h = h[len(h)-s.maxHistory:]
	}
	s.history[conversationID] = h
}

// History returns a copy of a conversation's history.
func (s *Service) History(conversationID string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.history[conversationID]
	out := make([]Exchange, len(h))
	copy(out, h)
	return out
}

// ClearHistory drops a conversation's history.
func (s *Service) ClearHistory(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, conversationID)
	s.logger.Printf("[chat] history cleared for conversation %q", conversationID)
}
