package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  uint32 `json:"code,omitempty"`
}

func isNotFound(err error) bool {
	return errorsmod.IsOf(err, types.ErrPositionNotFound, types.ErrNoPendingAction)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrSequencerStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case isNotFound(err):
		return http.StatusNotFound
	}
	switch types.KindOf(err) {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindEconomicLimit:
		return http.StatusUnprocessableEntity
	case types.KindStateConflict:
		return http.StatusConflict
	case types.KindExternalFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, core.ErrSequencerStopped):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case isNotFound(err):
		return codes.NotFound
	}
	switch types.KindOf(err) {
	case types.KindInvalidInput:
		return codes.InvalidArgument
	case types.KindEconomicLimit, types.KindStateConflict:
		return codes.FailedPrecondition
	case types.KindExternalFailure:
		return codes.Unavailable
	}
	return codes.Internal
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(grpcCode(err), err.Error())
}

func errorBody(err error) ErrorResponse {
	resp := ErrorResponse{Error: err.Error()}
	if kind := types.KindOf(err); kind != types.KindUnknown {
		resp.Kind = kind.String()
	}
	var coded interface{ ABCICode() uint32 }
	if errors.As(err, &coded) {
		resp.Code = coded.ABCICode()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorBody(err))
}

// badRequest wraps a decoding problem as invalid input.
func badRequest(msg string, err error) error {
	if err == nil {
		return errorsmod.Wrap(types.ErrInvalidRequest, msg)
	}
	return errorsmod.Wrapf(types.ErrInvalidRequest, "%s: %v", msg, err)
}
