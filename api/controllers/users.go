package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openfield/eventlog-pipeline/api/responses"
	"github.com/openfield/eventlog-pipeline/api/validators"
	"github.com/openfield/eventlog-pipeline/internal/users"
	pkgerrors "github.com/openfield/eventlog-pipeline/pkg/errors"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

// UserService is the surface the user controllers need.
type UserService interface {
	Register(ctx context.Context, input users.CreateUserInput) (users.UserDTO, bool, error)
	Get(ctx context.Context, id uuid.UUID) (users.UserDTO, error)
}

// CreateUser registers a user; re-posting an existing email returns the
// stored account with a 200 instead of a conflict.
func CreateUser(svc UserService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "user service unavailable"))
			return
		}

		var body users.CreateUserInput
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, created, err := svc.Register(r.Context(), body)
		if err != nil {
			if errors.Is(err, users.ErrInvalidInput) {
				err = pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user payload")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, map[string]users.UserDTO{"user": dto})
	}
}

// GetUser loads a user by id.
func GetUser(svc UserService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "user service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid user id"))
			return
		}

		dto, err := svc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				err = pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]users.UserDTO{"user": dto})
	}
}
