package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/port/completion"
	"github.com/Strob0t/JellyRoute/internal/service"
)

// --- fake completion provider ---

// scriptedProvider replays classifications and proposals in order. When a
// script runs out, the last classification repeats and proposals end with
// a final answer.
type scriptedProvider struct {
	mu              sync.Mutex
	classifications []completion.Classification
	proposals       []completion.Proposal
	proposeFn       func(req completion.ActionRequest) (completion.Proposal, error)
	classifyErr     error

	classifyReqs []completion.ClassifyRequest
	actionReqs   []completion.ActionRequest
}

func (p *scriptedProvider) Classify(_ context.Context, req completion.ClassifyRequest) (completion.Classification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.classifyReqs = append(p.classifyReqs, req)
	if p.classifyErr != nil {
		return completion.Classification{}, p.classifyErr
	}
	if len(p.classifications) == 0 {
		return completion.Classification{Clarify: true}, nil
	}
	c := p.classifications[0]
	if len(p.classifications) > 1 {
		p.classifications = p.classifications[1:]
	}
	return c, nil
}

func (p *scriptedProvider) ProposeAction(_ context.Context, req completion.ActionRequest) (completion.Proposal, error) {
	p.mu.Lock()
	p.actionReqs = append(p.actionReqs, req)
	fn := p.proposeFn
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proposals) == 0 {
		return completion.Proposal{Kind: completion.ProposalFinal, Answer: "done"}, nil
	}
	next := p.proposals[0]
	p.proposals = p.proposals[1:]
	return next, nil
}

func classify(d capability.Domain, confidence float64) completion.Classification {
	return completion.Classification{Domain: d, Confidence: confidence, Rationale: "test"}
}

func call(tool, args string) completion.Proposal {
	return completion.Proposal{Kind: completion.ProposalCall, Tool: tool, Arguments: json.RawMessage(args)}
}

func final(answer string) completion.Proposal {
	return completion.Proposal{Kind: completion.ProposalFinal, Answer: answer}
}

func outOfDomain(reason string) completion.Proposal {
	return completion.Proposal{Kind: completion.ProposalOutOfDomain, Reason: reason}
}

// --- fake tool execution layer ---

type executedCall struct {
	Tool string
	Args string
	Ctx  context.Context
}

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []executedCall
	results map[string][]trace.Result // per tool, consumed in order; the last repeats
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{results: make(map[string][]trace.Result)}
}

func (e *recordingExecutor) on(tool string, results ...trace.Result) *recordingExecutor {
	e.results[tool] = results
	return e
}

func (e *recordingExecutor) Execute(ctx context.Context, name string, args json.RawMessage, _ time.Duration) trace.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, executedCall{Tool: name, Args: string(args), Ctx: ctx})
	queue := e.results[name]
	if len(queue) == 0 {
		return trace.Success(fmt.Sprintf(`{"tool":%q}`, name))
	}
	r := queue[0]
	if len(queue) > 1 {
		e.results[name] = queue[1:]
	}
	return r
}

func (e *recordingExecutor) count(tool string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Tool == tool {
			n++
		}
	}
	return n
}

func (e *recordingExecutor) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// --- fake broadcaster and archive ---

type recordingHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	h.events = append(h.events, eventType)
	h.mu.Unlock()
}

func (h *recordingHub) has(eventType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type memArchive struct {
	mu    sync.Mutex
	saved map[string]*task.Response
}

func newMemArchive() *memArchive { return &memArchive{saved: make(map[string]*task.Response)} }

func (a *memArchive) SaveResponse(_ context.Context, t *task.Task, resp *task.Response) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[t.ID] = resp
	return nil
}

func (a *memArchive) GetResponse(_ context.Context, id string) (*task.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	resp, ok := a.saved[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return resp, nil
}

// --- wiring ---

var (
	registryOnce sync.Once
	registry     *capability.Registry
	registryErr  error
)

// testRegistry builds the embedded Jellyfin registry once; it is sealed
// and read-only, so tests share it.
func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	registryOnce.Do(func() {
		registry, registryErr = capability.BuildRegistry("")
	})
	if registryErr != nil {
		t.Fatalf("BuildRegistry: %v", registryErr)
	}
	return registry
}

type harness struct {
	sup      *service.Supervisor
	provider *scriptedProvider
	exec     *recordingExecutor
	hub      *recordingHub
	archive  *memArchive
	cfg      *config.Config
}

func newHarness(t *testing.T, provider *scriptedProvider, exec *recordingExecutor, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	for _, m := range mutate {
		m(&cfg)
	}
	reg := testRegistry(t)
	hub := &recordingHub{}
	archive := newMemArchive()

	dispatcher := service.NewDispatcher(exec, &cfg.Executor)
	executor := service.NewDomainExecutor(reg, provider, dispatcher, hub, &cfg.Executor)
	sup := service.NewSupervisor(reg, provider, executor, service.NewPool(cfg.Task.MaxConcurrent), &cfg)
	sup.SetBroadcaster(hub)
	sup.SetArchive(archive)

	return &harness{sup: sup, provider: provider, exec: exec, hub: hub, archive: archive, cfg: &cfg}
}

func (h *harness) handle(t *testing.T, req task.Request) *task.Response {
	t.Helper()
	resp, err := h.sup.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	return resp
}

func boolPtr(b bool) *bool { return &b }
