package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/llmpool/gateway/internal/apperr"
	"github.com/llmpool/gateway/utils"
)

// HandleServiceError maps a domain error to an HTTP response, following
// the thin-handler pattern: handlers call domain code, then hand the
// resulting error here for translation into a wire response.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var details map[string]interface{}
	if e, ok := err.(*apperr.Error); ok {
		details = e.Details
	}

	switch apperr.TypeOf(err) {
	case apperr.TypeNotFound:
		if werr := utils.WriteNotFound(w, err.Error()); werr != nil {
			logger.Error("failed to write not found response", zap.Error(werr))
		}

	case apperr.TypeValidation:
		if werr := utils.WriteBadRequest(w, err.Error(), details); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case apperr.TypeUnauthorized:
		if werr := utils.WriteUnauthorized(w, err.Error()); werr != nil {
			logger.Error("failed to write unauthorized response", zap.Error(werr))
		}

	case apperr.TypeConflict:
		if werr := utils.WriteConflict(w, err.Error(), details); werr != nil {
			logger.Error("failed to write conflict response", zap.Error(werr))
		}

	case apperr.TypeUnknownModel, apperr.TypePoolEmpty:
		if werr := utils.WriteNotFound(w, err.Error()); werr != nil {
			logger.Error("failed to write not found response", zap.Error(werr))
		}

	case apperr.TypeTranslation:
		if werr := utils.WriteBadRequest(w, err.Error(), details); werr != nil {
			logger.Error("failed to write bad request response", zap.Error(werr))
		}

	case apperr.TypeUpstream:
		logger.Warn("upstream dispatch failed", zap.Error(err))
		if werr := utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse{
			Error:   "bad_gateway",
			Message: err.Error(),
			Details: details,
		}); werr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(werr))
		}

	case apperr.TypeInternal:
		logger.Error("internal server error", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An internal error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}

	default:
		logger.Error("unhandled error type", zap.Error(err))
		if werr := utils.WriteInternalServerError(w, "An unexpected error occurred"); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
	}
}

// HandleValidationError handles validation errors from request parsing.
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if werr := utils.WriteBadRequest(w, "Validation failed", details); werr != nil {
			logger.Error("failed to write validation error response", zap.Error(werr))
		}
		return
	}

	if werr := utils.WriteBadRequest(w, err.Error(), nil); werr != nil {
		logger.Error("failed to write validation error response", zap.Error(werr))
	}
}
