// Package agent drives the turn loop: it claims inbound messages
// from the bus, iterates provider and tool calls, and publishes
// replies.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaylabs/relay/internal/agentctx"
	"github.com/relaylabs/relay/internal/bus"
	"github.com/relaylabs/relay/internal/memory"
	"github.com/relaylabs/relay/internal/observability"
	"github.com/relaylabs/relay/internal/providers"
	"github.com/relaylabs/relay/internal/sessions"
	"github.com/relaylabs/relay/internal/tools"
	"github.com/relaylabs/relay/pkg/models"
)

// DefaultMaxIterations bounds tool-call rounds within one turn.
const DefaultMaxIterations = 20

const iterationLimitMessage = "tool iteration limit reached"

const providerFailureMessage = "Sorry, I hit a problem talking to the language model. Please try again in a moment."

// Agent owns the dispatcher and per-turn execution.
type Agent struct {
	logger   *slog.Logger
	bus      *bus.Bus
	store    *sessions.Store
	locker   *sessions.Locker
	builder  *agentctx.Builder
	registry *tools.Registry
	provider providers.Provider
	memory   *memory.Manager

	maxIterations int
	model         string
	persona       string
	profile       string

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// Options configures optional agent behavior.
type Options struct {
	MaxIterations int
	Model         string
	Persona       string
	Profile       string

	// Memory enables windowed consolidation after turns.
	Memory *memory.Manager
}

// New creates the agent.
func New(b *bus.Bus, store *sessions.Store, locker *sessions.Locker, builder *agentctx.Builder, registry *tools.Registry, provider providers.Provider, opts Options) *Agent {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Agent{
		logger:        slog.Default().With("component", "agent"),
		bus:           b,
		store:         store,
		locker:        locker,
		builder:       builder,
		registry:      registry,
		provider:      provider,
		memory:        opts.Memory,
		maxIterations: maxIterations,
		model:         opts.Model,
		persona:       opts.Persona,
		profile:       opts.Profile,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Run consumes the bus until ctx is cancelled or the bus closes.
// Turns for different owners run concurrently; the owner lock
// serializes turns for the same conversation.
func (a *Agent) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.wg.Wait()
			return
		case msg, ok := <-a.bus.Inbound():
			if !ok {
				a.wg.Wait()
				return
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.Handle(ctx, msg)
			}()
		}
	}
}

// Cancel aborts the owner's in-flight turn at the next iteration
// boundary. In-flight provider and tool calls finish cooperatively.
func (a *Agent) Cancel(ownerKey string) {
	a.cancelMu.Lock()
	cancel := a.cancels[ownerKey]
	a.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Handle runs one full turn for an inbound message.
func (a *Agent) Handle(ctx context.Context, msg *models.InboundMessage) {
	ownerKey := msg.OwnerKey()
	logger := a.logger.With("owner", ownerKey, "channel", msg.Channel)

	release, err := a.locker.Acquire(ctx, ownerKey)
	if err != nil {
		logger.Warn("turn lock not acquired", "error", err)
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	a.cancelMu.Lock()
	a.cancels[ownerKey] = cancel
	a.cancelMu.Unlock()

	a.runTurn(turnCtx, logger, msg)

	a.cancelMu.Lock()
	delete(a.cancels, ownerKey)
	a.cancelMu.Unlock()
	cancel()
	release()

	observability.TurnsTotal.WithLabelValues(string(msg.Channel)).Inc()

	// Consolidation runs after the lock is released so it can take
	// the lock itself; if another turn got there first it just skips.
	if a.memory != nil {
		if err := a.memory.MaybeConsolidate(ctx, ownerKey); err != nil {
			logger.Warn("memory consolidation failed", "error", err)
		}
	}
}

func (a *Agent) runTurn(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage) {
	ownerKey := msg.OwnerKey()
	background := msg.Channel == models.ChannelSystem

	session, err := a.store.Load(ownerKey)
	if err != nil {
		logger.Error("session load failed", "error", err)
		return
	}

	userRecord := models.TurnRecord{
		Kind:        models.RecordUser,
		Content:     msg.Content,
		CreatedMs:   time.Now().UnixMilli(),
		Attachments: msg.Attachments,
	}
	if err := a.store.Append(ownerKey, userRecord); err != nil {
		logger.Error("session append failed", "error", err)
		return
	}
	history := session.Records

	var exclude []string
	if background {
		exclude = append(exclude, "spawn")
	}
	definitions := a.registry.Definitions(exclude...)

	toolCtx := tools.WithSessionKey(ctx, ownerKey)
	// Background turns carry no origin: the message tool must be
	// given an explicit target rather than defaulting to the
	// synthetic system conversation.
	if !background {
		toolCtx = tools.WithOrigin(toolCtx, tools.Origin{Channel: msg.Channel, ChatID: msg.ChatID})
	}

	// Tool records accumulated this turn; they follow the current
	// message in every subsequent provider request.
	var pending []models.TurnRecord

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		if ctx.Err() != nil {
			logger.Info("turn cancelled", "iteration", iteration)
			return
		}

		req := a.builder.Build(agentctx.Input{
			Message:    msg,
			History:    history,
			Pending:    pending,
			MemoryDoc:  a.memoryDoc(ownerKey),
			Persona:    a.persona,
			Profile:    a.profile,
			Tools:      definitions,
			Background: background,
		})
		req.Model = a.model

		resp, err := a.provider.Chat(ctx, req)
		if err != nil {
			logger.Error("provider call failed", "error", err)
			failure := models.TurnRecord{
				Kind:      models.RecordAssistant,
				Content:   fmt.Sprintf("(provider failure: %v)", err),
				CreatedMs: time.Now().UnixMilli(),
			}
			if appendErr := a.store.Append(ownerKey, failure); appendErr != nil {
				logger.Error("session append failed", "error", appendErr)
			}
			if !background {
				a.publish(msg, providerFailureMessage)
			}
			return
		}

		if len(resp.ToolCalls) == 0 {
			final := models.TurnRecord{
				Kind:      models.RecordAssistant,
				Content:   resp.Content,
				CreatedMs: time.Now().UnixMilli(),
			}
			if err := a.store.Append(ownerKey, final); err != nil {
				logger.Error("session append failed", "error", err)
			}
			// Background turns deliver via the message tool only; a
			// silent monitor that found nothing says nothing.
			if !background && strings.TrimSpace(resp.Content) != "" {
				a.publish(msg, resp.Content)
			}
			return
		}

		// Record calls before executing so a crash mid-iteration
		// leaves the request visible in the history.
		for _, call := range resp.ToolCalls {
			callRecord := models.TurnRecord{
				Kind:      models.RecordToolCall,
				ToolName:  call.Name,
				Args:      call.Arguments,
				CallID:    call.ID,
				CreatedMs: time.Now().UnixMilli(),
			}
			if err := a.store.Append(ownerKey, callRecord); err != nil {
				logger.Error("session append failed", "error", err)
			}
			pending = append(pending, callRecord)

			result := a.executeCall(toolCtx, background, call, ownerKey)
			resultRecord := models.TurnRecord{
				Kind:      models.RecordToolResult,
				Content:   result.Content,
				Status:    result.Status,
				CallID:    call.ID,
				CreatedMs: time.Now().UnixMilli(),
			}
			if err := a.store.Append(ownerKey, resultRecord); err != nil {
				logger.Error("session append failed", "error", err)
			}
			pending = append(pending, resultRecord)
		}
	}

	logger.Warn("tool iteration limit reached", "max", a.maxIterations)
	limitRecord := models.TurnRecord{
		Kind:      models.RecordAssistant,
		Content:   iterationLimitMessage,
		CreatedMs: time.Now().UnixMilli(),
	}
	if err := a.store.Append(ownerKey, limitRecord); err != nil {
		logger.Error("session append failed", "error", err)
	}
	if !background {
		a.publish(msg, iterationLimitMessage)
	}
}

// executeCall runs one tool call through the registry. Background
// turns must not spawn further background turns.
func (a *Agent) executeCall(ctx context.Context, background bool, call providers.ToolCall, ownerKey string) *models.ToolResult {
	if background && call.Name == "spawn" {
		return models.AccessDenied("spawn is not available in background turns")
	}
	params := call.Arguments
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return a.registry.Execute(ctx, call.Name, params, ownerKey)
}

func (a *Agent) memoryDoc(ownerKey string) string {
	if a.memory == nil {
		return ""
	}
	return a.memory.Document(ownerKey)
}

func (a *Agent) publish(msg *models.InboundMessage, content string) {
	a.bus.PublishOutbound(&models.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	})
}

