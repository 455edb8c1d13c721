package litellm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
	"github.com/Strob0t/JellyRoute/internal/domain/task"
	"github.com/Strob0t/JellyRoute/internal/domain/trace"
	"github.com/Strob0t/JellyRoute/internal/port/completion"
)

// OutOfDomainTool is the pseudo tool offered to every domain executor for
// signalling that a request belongs elsewhere.
const OutOfDomainTool = "out_of_domain"

//go:embed prompts/classify.tmpl
var classifyPromptSrc string

//go:embed prompts/domain.tmpl
var domainPromptSrc string

var (
	classifyTmpl = template.Must(template.New("classify").Parse(classifyPromptSrc))
	domainTmpl   = template.Must(template.New("domain").Parse(domainPromptSrc))
)

// domainFocus describes what each domain agent is responsible for.
var domainFocus = map[capability.Domain]struct{ title, focus string }{
	capability.DomainMedia: {"Media", "You find and manage library content: movies, shows, " +
		"music, artists, genres, playlists, collections, images and metadata."},
	capability.DomainSystem: {"System", "You look after the server itself: system information, " +
		"logs, scheduled tasks, plugins, packages, API keys, configuration and backups."},
	capability.DomainUser: {"User", "You manage user accounts and what users do: libraries, " +
		"views, sessions, playback state, suggestions, search and display preferences."},
	capability.DomainLiveTV: {"Live TV", "You handle live TV: channels, the program guide, " +
		"tuners, recordings and timers."},
	capability.DomainDevice: {"Device", "You manage the client devices registered with the " +
		"server and their options."},
}

// Provider implements completion.Provider on top of the LiteLLM proxy.
type Provider struct {
	client *Client
	cfg    *config.LiteLLM
}

// NewProvider creates a Provider.
func NewProvider(client *Client, cfg *config.LiteLLM) *Provider {
	return &Provider{client: client, cfg: cfg}
}

var _ completion.Provider = (*Provider)(nil)

// Classify asks the model which domain owns the request.
func (p *Provider) Classify(ctx context.Context, req completion.ClassifyRequest) (completion.Classification, error) {
	var buf bytes.Buffer
	if err := classifyTmpl.Execute(&buf, struct{ Domains []capability.DomainInfo }{req.Domains}); err != nil {
		return completion.Classification{}, fmt.Errorf("execute classify template: %w", err)
	}

	messages := append([]ChatMessage{{Role: "system", Content: buf.String()}}, historyMessages(req.History)...)
	resp, err := p.client.ChatCompletion(ctx, ChatCompletionRequest{
		Model:          p.cfg.Model,
		Messages:       messages,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Temperature:    0,
		MaxTokens:      512,
	})
	if err != nil {
		return completion.Classification{}, err
	}

	cls, err := parseClassification(resp.Content, req.Domains)
	if err != nil {
		slog.WarnContext(ctx, "classification unparseable, asking for clarification",
			"task_id", req.TaskID,
			"error", err,
			"content", truncate(resp.Content, 200),
		)
		return completion.Classification{Clarify: true}, nil
	}
	slog.DebugContext(ctx, "classified",
		"task_id", req.TaskID,
		"domain", cls.Domain,
		"confidence", cls.Confidence,
		"tokens_in", resp.TokensIn,
		"tokens_out", resp.TokensOut,
	)
	return cls, nil
}

// ProposeAction asks the model for the next step in req.Domain, offering
// the domain's tools plus out_of_domain.
func (p *Provider) ProposeAction(ctx context.Context, req completion.ActionRequest) (completion.Proposal, error) {
	system, err := domainPrompt(req.Domain)
	if err != nil {
		return completion.Proposal{}, err
	}

	messages := append([]ChatMessage{{Role: "system", Content: system}}, historyMessages(req.History)...)
	messages = append(messages, observationMessages(req.Observations)...)

	parallel := false
	resp, err := p.client.ChatCompletion(ctx, ChatCompletionRequest{
		Model:             p.cfg.Model,
		Messages:          messages,
		Tools:             toolDefinitions(req.Tools),
		ToolChoice:        "auto",
		ParallelToolCalls: &parallel,
		Temperature:       p.cfg.Temperature,
		TopP:              p.cfg.TopP,
		MaxTokens:         p.cfg.MaxTokens,
	})
	if err != nil {
		return completion.Proposal{}, err
	}

	if len(resp.ToolCalls) == 0 {
		return completion.Proposal{Kind: completion.ProposalFinal, Answer: strings.TrimSpace(resp.Content)}, nil
	}
	if len(resp.ToolCalls) > 1 {
		slog.DebugContext(ctx, "model proposed several calls, using the first", "count", len(resp.ToolCalls))
	}

	tc := resp.ToolCalls[0]
	if tc.Function.Name == OutOfDomainTool {
		var args struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(tc.RawArguments(), &args)
		return completion.Proposal{Kind: completion.ProposalOutOfDomain, Reason: args.Reason, CallID: tc.ID}, nil
	}
	return completion.Proposal{
		Kind:      completion.ProposalCall,
		Tool:      tc.Function.Name,
		Arguments: tc.RawArguments(),
		CallID:    tc.ID,
	}, nil
}

func domainPrompt(d capability.Domain) (string, error) {
	f, ok := domainFocus[d]
	if !ok {
		return "", fmt.Errorf("no prompt for domain %q", d)
	}
	var others []string
	for _, o := range capability.Domains() {
		if o != d {
			others = append(others, string(o))
		}
	}
	var buf bytes.Buffer
	err := domainTmpl.Execute(&buf, struct {
		Title, Focus, Others string
	}{f.title, f.focus, strings.Join(others, ", ")})
	if err != nil {
		return "", fmt.Errorf("execute domain template: %w", err)
	}
	return buf.String(), nil
}

func historyMessages(turns []task.Turn) []ChatMessage {
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// observationMessages replays the trace as assistant tool calls followed
// by their results, so the model sees rejected proposals too.
func observationMessages(entries []trace.Entry) []ChatMessage {
	out := make([]ChatMessage, 0, 2*len(entries))
	for _, e := range entries {
		id := fmt.Sprintf("call_%d", e.Call.Sequence)
		out = append(out,
			ChatMessage{
				Role: "assistant",
				ToolCalls: []ToolCall{{
					ID:       id,
					Type:     "function",
					Function: FunctionCall{Name: e.Call.Tool, Arguments: string(e.Call.Arguments)},
				}},
			},
			ChatMessage{Role: "tool", ToolCallID: id, Content: observationText(e.Result)},
		)
	}
	return out
}

func observationText(r trace.Result) string {
	if r.OK() {
		return r.Payload
	}
	return fmt.Sprintf("error %s: %s", r.Kind, r.Message)
}

func toolDefinitions(specs []capability.ToolSpec) []Tool {
	tools := make([]Tool, 0, len(specs)+1)
	for _, s := range specs {
		tools = append(tools, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.JSONSchema(),
			},
		})
	}
	tools = append(tools, Tool{
		Type: "function",
		Function: FunctionDef{
			Name:        OutOfDomainTool,
			Description: "Hand the request back because it belongs to another area.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string"},
				},
				"required": []string{"reason"},
			},
		},
	})
	return tools
}

// parseClassification extracts the routing decision from model output. A
// domain outside the candidates yields zero confidence.
func parseClassification(content string, candidates []capability.DomainInfo) (completion.Classification, error) {
	var raw struct {
		Domain     string  `json:"domain"`
		Confidence float64 `json:"confidence"`
		Clarify    bool    `json:"clarify"`
		Question   string  `json:"question"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return completion.Classification{}, fmt.Errorf("unmarshal classification: %w", err)
	}

	cls := completion.Classification{
		Confidence: min(max(raw.Confidence, 0), 1),
		Clarify:    raw.Clarify,
		Question:   strings.TrimSpace(raw.Question),
		Rationale:  raw.Rationale,
	}
	if raw.Domain == "" {
		return cls, nil
	}
	d, err := capability.ParseDomain(raw.Domain)
	if err != nil {
		cls.Confidence = 0
		return cls, nil
	}
	cls.Domain = d
	for _, c := range candidates {
		if c.Name == d {
			return cls, nil
		}
	}
	cls.Confidence = 0
	return cls, nil
}

// extractJSON strips markdown fences and surrounding prose from a JSON
// object in model output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
