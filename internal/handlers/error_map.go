package handlers

import (
	"net/http"

	"marketmesh/internal/apperror"
	"marketmesh/internal/logger"
)

// statusForError сопоставляет тип ошибки HTTP-статусу; 0 для нетипизированных ошибок.
func statusForError(err error) int {
	switch {
	case apperror.Is(err, apperror.KindNotFound):
		return http.StatusNotFound
	case apperror.Is(err, apperror.KindValidation):
		return http.StatusBadRequest
	case apperror.Is(err, apperror.KindConflict):
		return http.StatusConflict
	case apperror.Is(err, apperror.KindUnavailable):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	if status := statusForError(err); status != 0 {
		writeErrorResponseWithCode(w, status, string(apperror.CodeOf(err)), err.Error())
		return
	}
	if log != nil {
		log.WithError(err).Error(internalMessage)
	}
	writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
}
