// Package agent implements the turn loop: load a thread's state, let the
// model converse and call tools until it answers in plain text,
// summarize long histories, and persist the result.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/azaman/internal/config"
	"github.com/nugget/azaman/internal/events"
	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/prompts"
	"github.com/nugget/azaman/internal/state"
	"github.com/nugget/azaman/internal/summarizer"
	"github.com/nugget/azaman/internal/tools"
	"github.com/nugget/azaman/internal/usage"
)

// DefaultMaxIterations bounds model invocations in one turn.
const DefaultMaxIterations = 20

// ErrIterationLimit is returned when a turn keeps calling tools past the
// iteration ceiling. Nothing is persisted for such a turn.
var ErrIterationLimit = errors.New("tool loop exceeded iteration limit")

// Request is one user message for a thread.
type Request struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// Response is the outcome of a completed turn.
type Response struct {
	RequestID string `json:"request_id"`
	ThreadID  string `json:"thread_id"`
	// Content is the final assistant reply with reasoning blocks removed.
	Content string `json:"content"`
	// Messages is the thread's full persisted history.
	Messages     []llm.Message            `json:"messages"`
	State        *state.ConversationState `json:"state"`
	ToolsUsed    []string                 `json:"tools_used,omitempty"`
	Iterations   int                      `json:"iterations"`
	InputTokens  int                      `json:"input_tokens"`
	OutputTokens int                      `json:"output_tokens"`
	Summarized   bool                     `json:"summarized"`
	Model        string                   `json:"model"`
}

// StateObserver is told about every persisted state.
type StateObserver interface {
	StateSaved(ctx context.Context, st *state.ConversationState)
}

// UsageRecorder receives token usage for each model call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config tunes a Loop.
type Config struct {
	SummarizeThreshold int
	MaxIterations      int
	// SystemTemplate overrides the built-in system prompt.
	SystemTemplate string
	Pricing        map[string]config.PricingEntry
}

// Loop runs turns. It is safe for concurrent use across threads; callers
// serialize turns for the same thread.
type Loop struct {
	logger     *slog.Logger
	store      state.Store
	gateway    *llm.Gateway
	registry   *tools.Registry
	summarizer *summarizer.Summarizer
	cfg        Config

	bus      *events.Bus
	usage    UsageRecorder
	observer StateObserver
}

// NewLoop creates a turn loop.
func NewLoop(logger *slog.Logger, store state.Store, gateway *llm.Gateway, registry *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = summarizer.DefaultThreshold
	}
	if cfg.SystemTemplate == "" {
		cfg.SystemTemplate = prompts.SystemTemplate()
	}
	return &Loop{
		logger:     logger.With("component", "agent"),
		store:      store,
		gateway:    gateway,
		registry:   registry,
		summarizer: summarizer.New(gateway, cfg.SummarizeThreshold, logger),
		cfg:        cfg,
	}
}

// SetEventBus publishes turn events to bus.
func (l *Loop) SetEventBus(bus *events.Bus) { l.bus = bus }

// SetUsageRecorder records token usage for every model call.
func (l *Loop) SetUsageRecorder(r UsageRecorder) { l.usage = r }

// SetStateObserver notifies o after each successful save.
func (l *Loop) SetStateObserver(o StateObserver) { l.observer = o }

// State returns the current state of a thread without changing it.
func (l *Loop) State(ctx context.Context, threadID string) (*state.ConversationState, error) {
	return l.store.Load(ctx, threadID)
}

// History lists the saved versions of a thread, newest first.
func (l *Loop) History(ctx context.Context, threadID string, limit int) ([]state.VersionInfo, error) {
	return l.store.Versions(ctx, threadID, limit)
}

// Ping checks that the model backend is reachable.
func (l *Loop) Ping(ctx context.Context) error {
	return l.gateway.Ping(ctx)
}

type phase int

const (
	phaseAwaitModel phase = iota
	phaseExecuteTools
	phaseSummarize
	phaseDone
)

// turn carries the working data of one Run.
type turn struct {
	id        string
	st        *state.ConversationState
	pending   []llm.ToolCall
	final     string
	iter      int
	tokensIn  int
	tokensOut int
	toolsUsed []string
	model     string
	summed    bool
}

// Run processes one user message for req.ThreadID.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.ThreadID == "" {
		return nil, errors.New("thread id is required")
	}
	start := time.Now()
	t := &turn{id: generateRequestID()}
	log := l.logger.With("request_id", t.id, "thread_id", req.ThreadID)

	l.emit(events.KindRequestStart, map[string]any{
		"request_id":  t.id,
		"thread_id":   req.ThreadID,
		"message_len": len(req.Message),
	})
	log.Info("turn started", "message_len", len(req.Message))

	resp, err := l.run(ctx, log, t, req)

	data := map[string]any{
		"request_id": t.id,
		"thread_id":  req.ThreadID,
		"iterations": t.iter,
		"tokens_in":  t.tokensIn,
		"tokens_out": t.tokensOut,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
		log.Error("turn failed", "error", err, "iterations", t.iter)
	} else {
		log.Info("turn completed",
			"iterations", t.iter,
			"tools", len(t.toolsUsed),
			"tokens_in", t.tokensIn,
			"tokens_out", t.tokensOut,
			"summarized", t.summed,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}
	l.emit(events.KindRequestComplete, data)
	return resp, err
}

func (l *Loop) run(ctx context.Context, log *slog.Logger, t *turn, req *Request) (*Response, error) {
	loaded, err := l.store.Load(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	t.st = loaded.Clone()
	t.st.Messages = append(t.st.Messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	ph := phaseAwaitModel
	for {
		switch ph {
		case phaseAwaitModel:
			if t.iter >= l.cfg.MaxIterations {
				return nil, fmt.Errorf("%w (%d)", ErrIterationLimit, l.cfg.MaxIterations)
			}
			msg, err := l.awaitModel(ctx, log, t)
			if err != nil {
				return nil, err
			}
			t.st.Messages = append(t.st.Messages, msg)
			switch {
			case msg.HasToolCalls():
				t.pending = msg.ToolCalls
				ph = phaseExecuteTools
			case l.summarizer.ShouldSummarize(len(t.st.Messages)):
				t.final = msg.Content
				ph = phaseSummarize
			default:
				t.final = msg.Content
				ph = phaseDone
			}

		case phaseExecuteTools:
			for _, tc := range t.pending {
				toolMsg, err := l.executeTool(ctx, log, t, tc)
				if err != nil {
					return nil, err
				}
				t.st.Messages = append(t.st.Messages, toolMsg)
			}
			t.pending = nil
			ph = phaseAwaitModel

		case phaseSummarize:
			l.emit(events.KindSummarize, map[string]any{"request_id": t.id, "messages": len(t.st.Messages)})
			summary, resp, err := l.summarizer.Summarize(ctx, t.st.Messages)
			if resp != nil {
				l.recordUsage(ctx, log, t, resp, usage.PurposeSummary)
			}
			switch {
			case errors.Is(err, summarizer.ErrEmptySummary):
				log.Warn("empty summary, keeping previous", "messages", len(t.st.Messages))
			case err != nil:
				return nil, err
			default:
				t.st.Summary = summary
				t.summed = true
			}
			ph = phaseDone

		case phaseDone:
			saved, err := l.store.Save(ctx, t.st)
			if err != nil {
				return nil, fmt.Errorf("save state: %w", err)
			}
			l.emit(events.KindStateSaved, map[string]any{"thread_id": saved.ThreadID, "version": saved.Version})
			if l.observer != nil {
				l.observer.StateSaved(ctx, saved.Clone())
			}
			return &Response{
				RequestID:    t.id,
				ThreadID:     saved.ThreadID,
				Content:      strings.TrimSpace(llm.StripThink(t.final)),
				Messages:     saved.Messages,
				State:        saved,
				ToolsUsed:    t.toolsUsed,
				Iterations:   t.iter,
				InputTokens:  t.tokensIn,
				OutputTokens: t.tokensOut,
				Summarized:   t.summed,
				Model:        t.model,
			}, nil
		}
	}
}

// awaitModel renders the system prompt from the working state and
// invokes the model once.
func (l *Loop) awaitModel(ctx context.Context, log *slog.Logger, t *turn) (llm.Message, error) {
	system := prompts.Render(l.cfg.SystemTemplate, t.st)
	msgs := make([]llm.Message, 0, len(t.st.Messages)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	msgs = append(msgs, replayHistory(t.st.Messages)...)

	l.emit(events.KindLLMCall, map[string]any{"request_id": t.id, "iter": t.iter, "model": l.gateway.Model()})
	log.Debug("calling model", "iter", t.iter, "messages", len(msgs))

	resp, err := l.gateway.Invoke(ctx, msgs, l.registry.List())
	if err != nil {
		return llm.Message{}, err
	}
	t.iter++
	t.model = resp.Model
	l.recordUsage(ctx, log, t, resp, usage.PurposeTurn)

	l.emit(events.KindLLMResponse, map[string]any{
		"request_id": t.id,
		"iter":       t.iter - 1,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	return resp.Message, nil
}

// executeTool runs one call and returns the tool message answering it.
// Tool failures are reported to the model, not to the caller; only a
// cancelled context aborts the turn.
func (l *Loop) executeTool(ctx context.Context, log *slog.Logger, t *turn, tc llm.ToolCall) (llm.Message, error) {
	name := tc.Function.Name
	l.emit(events.KindToolCall, map[string]any{"request_id": t.id, "tool": name, "call_id": tc.ID})
	t.toolsUsed = append(t.toolsUsed, name)

	start := time.Now()
	res, err := l.registry.Execute(ctx, name, tc.Function.Arguments)
	done := map[string]any{
		"request_id":  t.id,
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	}

	var content string
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return llm.Message{}, err
		}
		done["error"] = err.Error()
		content = "Error: " + err.Error()
		log.Warn("tool failed", "tool", name, "error", err)
	} else {
		t.st.Apply(res)
		content = res.Message()
		log.Debug("tool executed", "tool", name, "result", content)
	}
	l.emit(events.KindToolDone, done)

	return llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: tc.ID}, nil
}

func (l *Loop) recordUsage(ctx context.Context, log *slog.Logger, t *turn, resp *llm.ChatResponse, purpose string) {
	t.tokensIn += resp.InputTokens
	t.tokensOut += resp.OutputTokens
	if l.usage == nil {
		return
	}
	rec := usage.Record{
		RequestID:    t.id,
		ThreadID:     t.st.ThreadID,
		Model:        resp.Model,
		Provider:     resp.Provider,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      usage.ComputeCost(resp.Model, resp.InputTokens, resp.OutputTokens, l.cfg.Pricing),
		Purpose:      purpose,
	}
	// The ledger is bookkeeping; a failed write does not fail the turn.
	if err := l.usage.Record(ctx, rec); err != nil {
		log.Warn("failed to record usage", "error", err)
	}
}

func (l *Loop) emit(kind string, data map[string]any) {
	l.bus.Emit(events.SourceAgent, kind, data)
}

// generateRequestID returns a short id for correlating a turn's log
// lines and events: "r_" plus 8 hex characters.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
