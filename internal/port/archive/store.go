// Package archive defines the port for persisting finished task responses.
package archive

import (
	"context"

	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// Store keeps the audit record of handled tasks. GetResponse returns an
// error wrapping domain.ErrNotFound for unknown ids.
type Store interface {
	SaveResponse(ctx context.Context, t *task.Task, resp *task.Response) error
	GetResponse(ctx context.Context, taskID string) (*task.Response, error)
}
