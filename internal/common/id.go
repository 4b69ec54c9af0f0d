package common

import (
	"github.com/google/uuid"
)

// NewProjectID generates a unique project ID with the "proj_" prefix
// Format: proj_<uuid>
func NewProjectID() string {
	return "proj_" + uuid.New().String()
}
