// Package service holds the interaction, comment, fan-out, propagation and
// rank logic on top of the record store.
package service

import (
	"errors"

	"tagapp/internal/models"
	"tagapp/internal/store"
)

// classify turns a store error into the application error reported to
// callers. Errors that are already application errors pass through.
func classify(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if store.IsNotFound(err) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}
