package service

import (
	"context"
	"errors"

	"github.com/redinc23/hathor-red-sub003/pkg/model"
	"github.com/redinc23/hathor-red-sub003/service-sync/internal/repository"
)

var (
	// ErrRoomNotFound - the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrCapacityExceeded - the room is at its participant limit.
	ErrCapacityExceeded = errors.New("room capacity exceeded")

	// ErrNotHost - a non-host issued a control command.
	ErrNotHost = errors.New("only the room host may control playback")

	// ErrStateNotFound - the user has no playback snapshot yet.
	ErrStateNotFound = errors.New("playback state not found")

	// ErrStoreUnavailable - the durable store or cache failed or timed out;
	// the operation failed as a whole and may be retried.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBadRequest - the message payload is missing a required field.
	ErrBadRequest = errors.New("invalid request payload")
)

// classify converts a service error into the single caller-visible error
// event. Unknown errors are reported as store failures: everything else the
// engine produces is one of the typed sentinels above.
func classify(err error) model.ErrorPayload {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrStateNotFound):
		return model.ErrorPayload{Code: model.ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, ErrCapacityExceeded):
		return model.ErrorPayload{Code: model.ErrCodeCapacityExceeded, Message: err.Error()}
	case errors.Is(err, ErrNotHost):
		return model.ErrorPayload{Code: model.ErrCodeUnauthorized, Message: err.Error()}
	case errors.Is(err, ErrBadRequest):
		return model.ErrorPayload{Code: model.ErrCodeBadRequest, Message: err.Error()}
	default:
		return model.ErrorPayload{Code: model.ErrCodeStoreUnavailable, Message: ErrStoreUnavailable.Error()}
	}
}

// ClassifyError exposes the error-to-event mapping to the transport layer.
func ClassifyError(err error) model.ErrorPayload {
	return classify(err)
}

// mapStoreErr folds repository and context failures into the taxonomy.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrRoomFull):
		return ErrCapacityExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return ErrStoreUnavailable
	default:
		return ErrStoreUnavailable
	}
}
