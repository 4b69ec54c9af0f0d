package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/sitelens/internal/interfaces"
	"github.com/ternarybob/sitelens/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProjectStorage implements the ProjectStore interface for Badger
type ProjectStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProjectStorage creates a new ProjectStorage instance
func NewProjectStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProjectStore {
	return &ProjectStorage{
		db:     db,
		logger: logger,
	}
}

// Save upserts a project manifest keyed by project ID
func (s *ProjectStorage) Save(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project ID is required")
	}

	if err := s.db.Store().Upsert(project.ID, project); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}

	s.logger.Debug().
		Str("project_id", project.ID).
		Str("status", string(project.Status)).
		Msg("Project manifest saved")

	return nil
}

// LoadAll returns every persisted project manifest, newest first
func (s *ProjectStorage) LoadAll(ctx context.Context) ([]*models.Project, error) {
	var projects []*models.Project
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()

	if err := s.db.Store().Find(&projects, query); err != nil {
		return nil, fmt.Errorf("failed to load projects: %w", err)
	}

	return projects, nil
}

// Close closes the underlying database connection
func (s *ProjectStorage) Close() error {
	return s.db.Close()
}
