package interfaces

import (
	"context"

	"github.com/ternarybob/sitelens/internal/models"
)

// ProjectStore persists project manifests. Save is invoked on every status
// transition; LoadAll restores the registry at startup. The storage format
// is an implementation detail of the store.
type ProjectStore interface {
	Save(ctx context.Context, project *models.Project) error
	LoadAll(ctx context.Context) ([]*models.Project, error)
	Close() error
}
