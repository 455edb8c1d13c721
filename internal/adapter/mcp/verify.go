package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/JellyRoute/internal/domain/capability"
)

// Verify compares the registry with the tools the server exposes. Missing
// tools are logged; with strict set they fail startup.
func (c *Client) Verify(ctx context.Context, registry *capability.Registry, strict bool) ([]string, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	served := make(map[string]bool, len(tools))
	for _, t := range tools {
		served[t.Name] = true
	}

	var missing []string
	for _, name := range registry.Names() {
		if !served[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		slog.InfoContext(ctx, "mcp tools verified", "count", registry.Len())
		return nil, nil
	}

	slog.WarnContext(ctx, "registry tools missing on mcp server", "count", len(missing), "tools", missing)
	if strict {
		return missing, fmt.Errorf("%w: tools missing on mcp server: %s", capability.ErrConfiguration, strings.Join(missing, ", "))
	}
	return missing, nil
}
