package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"syncgate/internal/errs"
)

const maxRequestBody = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Kind     string         `json:"kind,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps an error's kind to a status code and problem body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status, title := statusFor(kind)
	p := Problem{Type: "about:blank", Title: title, Status: status, Detail: err.Error(), Instance: r.URL.Path, Kind: string(kind)}
	var e *errs.Error
	if errors.As(err, &e) {
		p.Details = e.Details
	}
	if status >= 500 {
		s.logger.Error("request failed", zapRequest(r, err)...)
	}
	writeJSON(w, status, p)
}

func statusFor(kind errs.Kind) (int, string) {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest, "Invalid request"
	case errs.KindNotFound:
		return http.StatusNotFound, "Not Found"
	case errs.KindUnsupportedConnector, errs.KindUnsupportedOperation, errs.KindConfiguration:
		return http.StatusUnprocessableEntity, "Unsupported"
	case errs.KindAuthentication, errs.KindConnection:
		return http.StatusBadGateway, "Upstream error"
	case errs.KindTimeout:
		return http.StatusGatewayTimeout, "Upstream timeout"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// decode reads a JSON body into v and checks its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("invalid JSON: %v", err)
	}
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return errs.Validation("invalid fields: %s", strings.Join(fields, ", "))
		}
		return errs.Validation("%v", err)
	}
	return nil
}
