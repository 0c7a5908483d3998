package server

import (
	"encoding/json"
	"net/http"

	"stablefactory/native/factory"
)

type problem struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var statusByCode = map[string]int{
	factory.CodeInvalidInput:       http.StatusBadRequest,
	factory.CodeInvalidAccount:     http.StatusBadRequest,
	factory.CodeOracleMismatch:     http.StatusBadRequest,
	factory.CodeUnauthorized:       http.StatusForbidden,
	factory.CodeLimitReached:       http.StatusTooManyRequests,
	factory.CodeUnavailable:        http.StatusServiceUnavailable,
	factory.CodeOracleUnavailable:  http.StatusServiceUnavailable,
	factory.CodeInsufficientFunds:  http.StatusPaymentRequired,
	factory.CodeArithmeticOverflow: http.StatusUnprocessableEntity,
}

// statusFor maps an engine error to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	code := factory.Code(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, factory.CodeInternal
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeProblem(w, status, code, "internal error")
		return
	}
	writeProblem(w, status, code, err.Error())
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
