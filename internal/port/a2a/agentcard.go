package a2a

import (
	"strings"

	"github.com/a2aproject/a2a-go/a2a"

	"github.com/Strob0t/JellyRoute/internal/config"
	"github.com/Strob0t/JellyRoute/internal/domain/capability"
)

const protocolVersion = "0.3.0"

// skillExamples are shown to A2A clients picking a skill.
var skillExamples = map[capability.Domain][]string{
	capability.DomainMedia:  {"Find movies directed by Denis Villeneuve", "Create a playlist called Road Trip"},
	capability.DomainSystem: {"Show the server log files", "Which scheduled tasks are running?"},
	capability.DomainUser:   {"List all users", "What is Alice currently watching?"},
	capability.DomainLiveTV: {"What is on channel 5?", "Record tonight's news"},
	capability.DomainDevice: {"Which devices are registered?", "Rename the living room TV"},
}

// BuildAgentCard describes the router with one skill per domain.
func BuildAgentCard(agent *config.Agent, baseURL string, domains []capability.DomainInfo) a2a.AgentCard {
	skills := make([]a2a.AgentSkill, 0, len(domains))
	for _, d := range domains {
		skills = append(skills, a2a.AgentSkill{
			ID:          string(d.Name),
			Name:        skillName(d.Name),
			Description: d.Description,
			Tags:        d.Tags,
			Examples:    skillExamples[d.Name],
			InputModes:  []string{"text/plain"},
			OutputModes: []string{"text/plain", "application/json"},
		})
	}

	return a2a.AgentCard{
		Name:               agent.Name,
		Description:        agent.Description,
		URL:                strings.TrimSuffix(baseURL, "/") + "/a2a",
		Version:            agent.Version,
		ProtocolVersion:    protocolVersion,
		PreferredTransport: a2a.TransportProtocolHTTPJSON,
		Capabilities: a2a.AgentCapabilities{
			Streaming:              false,
			StateTransitionHistory: true,
		},
		DefaultInputModes:  []string{"text/plain"},
		DefaultOutputModes: []string{"text/plain"},
		Skills:             skills,
	}
}

func skillName(d capability.Domain) string {
	if d == capability.DomainLiveTV {
		return "Live TV"
	}
	s := string(d)
	return strings.ToUpper(s[:1]) + s[1:]
}
