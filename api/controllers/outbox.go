package controllers

import (
	"context"
	"net/http"

	"github.com/openfield/eventlog-pipeline/api/responses"
	"github.com/openfield/eventlog-pipeline/api/validators"
	pkgerrors "github.com/openfield/eventlog-pipeline/pkg/errors"
	"github.com/openfield/eventlog-pipeline/pkg/logger"
)

// OutboxAdmin exposes the operator surface of the outbox repository.
type OutboxAdmin interface {
	CountParked(ctx context.Context, maxRetries int) (int64, error)
	ResetFailed(ctx context.Context, ids []int64) (int64, error)
}

type resetFailedRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=1000"`
}

// OutboxParked reports how many rows have exhausted their retry budget.
func OutboxParked(admin OutboxAdmin, maxRetries int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox admin unavailable"))
			return
		}
		count, err := admin.CountParked(r.Context(), maxRetries)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"parked": count})
	}
}

// OutboxResetFailed returns the named failed rows to pending with a fresh
// retry budget. Meant for operators after a payload or sink issue is fixed.
func OutboxResetFailed(admin OutboxAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox admin unavailable"))
			return
		}

		var body resetFailedRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reset, err := admin.ResetFailed(r.Context(), body.IDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"reset": reset})
	}
}
