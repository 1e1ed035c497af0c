package repository

import (
	"context"

	"github.com/pesio-ai/be-gl-closing/internal/database"
	"github.com/pesio-ai/be-gl-closing/internal/errors"
)

// PermissionRepository answers permission checks from the role tables
// shared with the identity service.
type PermissionRepository struct {
	db *database.DB
}

// NewPermissionRepository creates a new PermissionRepository.
func NewPermissionRepository(db *database.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// HasPermission reports whether any role of the user grants permission.
func (r *PermissionRepository) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role = ur.role
			WHERE ur.user_id = $1 AND rp.permission = $2
		)
	`

	var ok bool
	if err := r.db.QueryRow(ctx, query, userID, permission).Scan(&ok); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check permission")
	}
	return ok, nil
}
