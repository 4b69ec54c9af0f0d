package interfaces

import (
	"context"

	"github.com/ternarybob/sitelens/internal/models"
)

// JobHandler performs the real work for one job. The pool never inspects
// handler behavior, only the returned result or error; exceeding the
// configured timeout is treated the same as a returned error.
type JobHandler func(ctx context.Context, payload models.JobPayload) (interface{}, error)
