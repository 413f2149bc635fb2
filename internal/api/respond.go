package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/screenpop/internal/screenpop"
	"github.com/sells-group/screenpop/pkg/connectwise"
)

// errorResponse is the body of every non-form error.
type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// formResponse is the body of the /api form endpoints.
type formResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CompanyID int64  `json:"company_id,omitempty"`
	ContactID int64  `json:"contact_id,omitempty"`
	TicketID  int64  `json:"ticket_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// faultStatus maps a handler fault to its HTTP status: storage faults are
// 500, a ConnectWise 404 is 404, an open circuit is 503 and anything else
// from upstream is 502.
func faultStatus(err error) int {
	var se *screenpop.StorageError
	switch {
	case errors.As(err, &se):
		return http.StatusInternalServerError
	case errors.Is(err, connectwise.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, connectwise.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// storageFault logs and writes a 500 for a local store error.
func (s *Server) storageFault(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "storage error: "+err.Error())
}

// upstreamFault logs and writes the status faultStatus picks for err.
func (s *Server) upstreamFault(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := faultStatus(err)
	if status != http.StatusNotFound {
		s.log.Error(op, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (s *Server) formFailure(w http.ResponseWriter, r *http.Request, op string, status int, err error) {
	s.log.Error(op, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	writeJSON(w, status, formResponse{Success: false, Message: err.Error()})
}

// pathID parses a positive int64 URL parameter.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// form reads the posted form and returns the trimmed values of the required
// fields, or the list of those that are missing.
func form(r *http.Request, required ...string) (map[string]string, []string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, nil, err
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = strings.TrimSpace(r.PostForm.Get(k))
	}
	var missing []string
	for _, k := range required {
		if values[k] == "" {
			missing = append(missing, k)
		}
	}
	return values, missing, nil
}

func formFields(w http.ResponseWriter, r *http.Request, required ...string) (map[string]string, bool) {
	values, missing, err := form(r, required...)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, formResponse{Message: "invalid form: " + err.Error()})
		return nil, false
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, formResponse{Message: "missing form fields: " + strings.Join(missing, ", ")})
		return nil, false
	}
	return values, true
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
