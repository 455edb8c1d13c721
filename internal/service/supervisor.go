package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/JellyRoute/internal/adapter/otel"
	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/event"
	"github.com/Strob0t/JellyRoute/internal/domain/failure"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/logger"
	"github.com/Strob0t/JellyRoute/internal/port/archive"
	"github.com/Strob0t/JellyRoute/internal/port/broadcast"
	"github.com/Strob0t/JellyRoute/internal/port/completion"
)

const defaultClarification = "Could you clarify what you would like me to do? " +
	"Naming the item, user, channel or device helps."

// Supervisor owns each task from receipt to its final response: it
// classifies the request, delegates to one domain at a time, re-routes on
// an out-of-domain signal and turns every outcome into a Response.
// It is safe for concurrent use; each task is handled by one goroutine.
type Supervisor struct {
	registry *capability.Registry
	provider completion.Provider
	executor *DomainExecutor
	pool     *Pool
	routing  *config.Routing
	taskCfg  *config.Task
	timeouts *config.Executor
	agent    string

	hub     broadcast.Broadcaster
	archive archive.Store
	metrics *cfotel.Metrics

	now   func() time.Time
	newID func() string
}

// NewSupervisor creates a Supervisor over a sealed registry.
func NewSupervisor(
	registry *capability.Registry,
	provider completion.Provider,
	executor *DomainExecutor,
	pool *Pool,
	cfg *config.Config,
) *Supervisor {
	return &Supervisor{
		registry: registry,
		provider: provider,
		executor: executor,
		pool:     pool,
		routing:  &cfg.Routing,
		taskCfg:  &cfg.Task,
		timeouts: &cfg.Executor,
		agent:    cfg.Agent.Name,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetBroadcaster sets the event fan-out for task lifecycle events.
func (s *Supervisor) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetArchive enables persisting finished and suspended tasks.
func (s *Supervisor) SetArchive(a archive.Store) { s.archive = a }

// SetMetrics enables task metrics.
func (s *Supervisor) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Handle runs one request to a response. Invalid requests return an error
// wrapping domain.ErrValidation; every per-task failure is reported inside
// the response instead.
func (s *Supervisor) Handle(ctx context.Context, req task.Request) (*task.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := task.New(s.newID(), req, s.now())
	ctx = logger.WithTaskID(ctx, t.ID)

	var resp *task.Response
	err := s.pool.Run(ctx, func() error {
		resp = s.run(ctx, t)
		return nil
	})
	if err != nil {
		// Cancelled while waiting for a slot.
		_ = t.Transition(task.StatusFailed, s.now())
		resp = BuildResponse(t, &trace.Trace{}, Aggregate{Fail: failure.From(err, "")})
		s.save(ctx, t, resp)
	}
	return resp, nil
}

// Get returns an archived response.
func (s *Supervisor) Get(ctx context.Context, taskID string) (*task.Response, error) {
	if s.archive == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return s.archive.GetResponse(ctx, taskID)
}

// Domains describes the fixed domain set with the size of each slice.
func (s *Supervisor) Domains() []DomainSummary {
	infos := s.registry.DomainInfos()
	out := make([]DomainSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, DomainSummary{DomainInfo: info, Tools: len(s.registry.Slice(info.Name))})
	}
	return out
}

// DomainSummary is a domain description with its tool count.
type DomainSummary struct {
	capability.DomainInfo
	Tools int `json:"tools"`
}

func (s *Supervisor) run(ctx context.Context, t *task.Task) *task.Response {
	start := s.now()
	ctx, cancel := context.WithTimeout(ctx, s.taskCfg.Timeout)
	defer cancel()

	ctx, span := cfotel.StartTaskSpan(ctx, t.ID, t.SessionID, t.Interactive)
	defer span.End()

	s.metrics.TaskStarted(ctx)
	s.emit(ctx, event.RunStarted, event.RunStartedEvent{RunID: t.ID, ThreadID: t.SessionID, AgentName: s.agent})
	slog.InfoContext(ctx, "task received",
		"session_id", t.SessionID,
		"interactive", t.Interactive,
		"follow_up", t.FollowUp,
		"in_flight", s.pool.InFlight(),
	)

	tr := &trace.Trace{}
	resp := s.drive(ctx, t, tr)

	if resp.Failure != nil {
		span.SetStatus(codes.Error, string(resp.Failure.Kind))
	}
	s.finish(ctx, t, resp, s.now().Sub(start))
	return resp
}

// drive walks the task state machine until the task is done, failed or
// suspended for caller input.
func (s *Supervisor) drive(ctx context.Context, t *task.Task, tr *trace.Trace) *task.Response {
	lastAction := ""
	fail := func(fe *failure.Error) *task.Response {
		if fe == nil {
			fe = failure.Errorf(failure.KindInternal, lastAction, "task ended without a result")
		}
		if err := t.Transition(task.StatusFailed, s.now()); err != nil {
			slog.ErrorContext(ctx, "task transition failed", "error", err)
		}
		return BuildResponse(t, tr, Aggregate{Fail: failure.From(fe, lastAction)})
	}
	move := func(to task.Status) *failure.Error {
		if err := t.Transition(to, s.now()); err != nil {
			return failure.New(failure.KindInternal, lastAction, err)
		}
		s.emit(ctx, event.StateDelta, event.StateDeltaEvent{RunID: t.ID, Delta: fmt.Sprintf(`{"status":%q}`, to)})
		return nil
	}

	if fe := move(task.StatusClassifying); fe != nil {
		return fail(fe)
	}

	rejected := make(map[capability.Domain]bool)
	for {
		if err := ctx.Err(); err != nil {
			return fail(failure.From(err, lastAction))
		}

		candidates := remainingDomains(rejected)
		cls, err := s.classify(ctx, t, candidates)
		if err != nil {
			return fail(providerFailure(err, lastAction))
		}

		if !s.confident(cls, candidates) {
			slog.InfoContext(ctx, "classification not confident",
				"domain", cls.Domain,
				"confidence", cls.Confidence,
				"clarify", cls.Clarify,
			)
			switch {
			case len(rejected) > 0:
				return fail(failure.Errorf(failure.KindRoutingLoopExceeded, lastAction,
					"no remaining domain claims the request after rejections by %v", rejectedList(rejected)))
			case t.Clarified():
				return fail(failure.Errorf(failure.KindAmbiguousIntent, lastAction, "still ambiguous after clarification"))
			case !t.Interactive:
				return fail(failure.Errorf(failure.KindAmbiguousIntent, lastAction, "ambiguous request in non-interactive mode"))
			}
			if fe := move(task.StatusReceived); fe != nil {
				return fail(fe)
			}
			question := cls.Question
			if question == "" {
				question = defaultClarification
			}
			return BuildResponse(t, tr, Aggregate{Question: question})
		}

		if err := t.Delegate(task.Delegation{
			Domain:     cls.Domain,
			Rationale:  cls.Rationale,
			Confidence: cls.Confidence,
			At:         s.now(),
		}); err != nil {
			return fail(failure.New(failure.KindInternal, lastAction, err))
		}
		slog.InfoContext(ctx, "task delegated", "domain", cls.Domain, "confidence", cls.Confidence, "reroutes", t.Reroutes())
		if fe := move(task.StatusDelegated); fe != nil {
			return fail(fe)
		}
		if fe := move(task.StatusAwaitingResult); fe != nil {
			return fail(fe)
		}

		res := s.execute(ctx, t, tr)
		if res.LastAction != "" {
			lastAction = res.LastAction
		}

		switch res.Outcome {
		case ExecAnswered:
			if fe := move(task.StatusAggregating); fe != nil {
				return fail(fe)
			}
			if fe := move(task.StatusDone); fe != nil {
				return fail(fe)
			}
			return BuildResponse(t, tr, Aggregate{Answer: res.Answer})

		case ExecNeedsConfirmation:
			if fe := move(task.StatusReceived); fe != nil {
				return fail(fe)
			}
			return BuildResponse(t, tr, Aggregate{Confirmation: res.Confirmation})

		case ExecOutOfDomain:
			rejected[t.Domain] = true
			if t.Reroutes() >= s.routing.MaxReroutes || len(remainingDomains(rejected)) == 0 {
				return fail(failure.Errorf(failure.KindRoutingLoopExceeded, lastAction,
					"rejected by %v", rejectedList(rejected)))
			}
			s.metrics.Reroute(ctx, string(t.Domain))
			s.emit(ctx, event.StepStarted, event.StepStartedEvent{
				RunID:  t.ID,
				StepID: fmt.Sprintf("%s-reroute-%d", t.ID, t.Reroutes()+1),
				Name:   event.StepReroute,
				Domain: string(t.Domain),
			})
			if fe := move(task.StatusClassifying); fe != nil {
				return fail(fe)
			}

		default:
			return fail(res.Err)
		}
	}
}

func (s *Supervisor) classify(ctx context.Context, t *task.Task, candidates []capability.Domain) (completion.Classification, error) {
	stepID := fmt.Sprintf("%s-classify-%d", t.ID, len(t.Delegations)+1)
	s.emit(ctx, event.StepStarted, event.StepStartedEvent{RunID: t.ID, StepID: stepID, Name: event.StepClassify})

	cctx, span := cfotel.StartClassifySpan(ctx, t.ID, len(candidates))
	defer span.End()
	cctx, cancel := context.WithTimeout(context.WithoutCancel(cctx), s.timeouts.CompletionTimeout)
	defer cancel()

	cls, err := s.provider.Classify(cctx, completion.ClassifyRequest{
		TaskID:  t.ID,
		Text:    t.Text,
		History: t.Conversation(),
		Domains: s.registry.DomainInfos(candidates...),
	})

	status := "completed"
	if err != nil {
		status = "failed"
		span.SetStatus(codes.Error, err.Error())
	}
	s.emit(ctx, event.StepFinished, event.StepFinishedEvent{RunID: t.ID, StepID: stepID, Status: status})
	return cls, err
}

func (s *Supervisor) execute(ctx context.Context, t *task.Task, tr *trace.Trace) ExecResult {
	stepID := fmt.Sprintf("%s-execute-%d", t.ID, len(t.Delegations))
	s.emit(ctx, event.StepStarted, event.StepStartedEvent{
		RunID:  t.ID,
		StepID: stepID,
		Name:   event.StepExecute,
		Domain: string(t.Domain),
	})

	dctx, span := cfotel.StartDelegationSpan(ctx, t.ID, string(t.Domain))
	res := s.executor.Run(dctx, t, tr)
	span.End()

	status := "completed"
	if res.Outcome == ExecFailed {
		status = "failed"
	}
	s.emit(ctx, event.StepFinished, event.StepFinishedEvent{RunID: t.ID, StepID: stepID, Status: status})
	return res
}

// confident reports whether cls names a candidate domain with enough
// confidence to delegate.
func (s *Supervisor) confident(cls completion.Classification, candidates []capability.Domain) bool {
	if cls.Clarify || cls.Confidence < s.routing.ConfidenceThreshold {
		return false
	}
	for _, d := range candidates {
		if d == cls.Domain {
			return true
		}
	}
	return false
}

func (s *Supervisor) finish(ctx context.Context, t *task.Task, resp *task.Response, elapsed time.Duration) {
	s.save(ctx, t, resp)

	kind := ""
	text := resp.Answer
	switch resp.Status {
	case task.ResponseFailed:
		kind = string(resp.Failure.Kind)
		text = resp.Failure.Message
	case task.ResponseNeedsClarification:
		text = resp.Clarification
	case task.ResponseNeedsConfirmation:
		text = resp.Confirmation.Prompt
	}
	if text != "" {
		s.emit(ctx, event.TextMessage, event.TextMessageEvent{RunID: t.ID, Role: string(task.RoleAssistant), Content: text})
	}
	s.emit(ctx, event.RunFinished, event.RunFinishedEvent{RunID: t.ID, Status: string(resp.Status), Error: kind})

	s.metrics.TaskFinished(ctx, string(resp.Status), kind, elapsed)
	slog.InfoContext(ctx, "task finished",
		"status", resp.Status,
		"task_status", resp.TaskStatus,
		"domain", resp.Domain,
		"failure", kind,
		"calls", len(resp.Trace),
		"elapsed", elapsed,
	)
}

func (s *Supervisor) save(ctx context.Context, t *task.Task, resp *task.Response) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveResponse(context.WithoutCancel(ctx), t, resp); err != nil {
		slog.ErrorContext(ctx, "archive task failed", "error", err)
	}
}

func (s *Supervisor) emit(ctx context.Context, typ event.Type, payload any) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, string(typ), payload)
	}
}

func remainingDomains(rejected map[capability.Domain]bool) []capability.Domain {
	var out []capability.Domain
	for _, d := range capability.Domains() {
		if !rejected[d] {
			out = append(out, d)
		}
	}
	return out
}

func rejectedList(rejected map[capability.Domain]bool) []capability.Domain {
	var out []capability.Domain
	for _, d := range capability.Domains() {
		if rejected[d] {
			out = append(out, d)
		}
	}
	return out
}
