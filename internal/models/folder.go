// -----------------------------------------------------------------------
// Folder - Named grouping of completed jobs
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Folder groups completed jobs and optimizing jobs for browsing. Membership
// is tracked on the jobs themselves (FolderName); the folder record carries
// the display metadata.
type Folder struct {
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks folder constraints.
func (f *Folder) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("invalid folder: %w", err)
	}
	return nil
}
