package api

import (
	"encoding/json"
	"net/http"

	"github.com/HerbHall/hubnet/internal/mode"
)

// Problem types for RFC 7807 Problem Details responses.
const (
	ProblemTypeNotFound        = "https://hubnet.local/problems/not-found"
	ProblemTypeBadRequest      = "https://hubnet.local/problems/bad-request"
	ProblemTypeInternal        = "https://hubnet.local/problems/internal-error"
	ProblemTypeRateLimited     = "https://hubnet.local/problems/rate-limited"
	ProblemTypeConflict        = "https://hubnet.local/problems/conflict"
	ProblemTypeConnectFailed   = "https://hubnet.local/problems/connect-failed"
	ProblemTypeAuthFailed      = "https://hubnet.local/problems/auth-failed"
	ProblemTypeNetworkNotFound = "https://hubnet.local/problems/network-not-found"
	ProblemTypeTimeout         = "https://hubnet.local/problems/timeout"
	ProblemTypeScanFailed      = "https://hubnet.local/problems/scan-failed"
)

// Problem represents an RFC 7807 Problem Details response. Kind and
// AttemptID are extension members set on connect failures.
type Problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	Kind      string `json:"kind,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// WriteProblem writes an RFC 7807 Problem Details JSON response.
func WriteProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NotFound writes a 404 problem response.
func NotFound(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: instance,
	})
}

// BadRequest writes a 400 problem response.
func BadRequest(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeBadRequest,
		Title:    "Bad Request",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: instance,
	})
}

// InternalError writes a 500 problem response.
func InternalError(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: instance,
	})
}

// RateLimited writes a 429 problem response.
func RateLimited(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeRateLimited,
		Title:    "Too Many Requests",
		Status:   http.StatusTooManyRequests,
		Detail:   detail,
		Instance: instance,
	})
}

// ScanFailed writes a 503 problem response for a radio that could not scan.
func ScanFailed(w http.ResponseWriter, detail, instance string) {
	WriteProblem(w, Problem{
		Type:     ProblemTypeScanFailed,
		Title:    "Scan Failed",
		Status:   http.StatusServiceUnavailable,
		Detail:   detail,
		Instance: instance,
	})
}

// connectProblem maps a failed connect result onto a problem response.
func connectProblem(res mode.Result, instance string) Problem {
	p := Problem{
		Instance:  instance,
		Kind:      string(res.Kind),
		AttemptID: res.AttemptID,
	}
	if res.Err != nil {
		p.Detail = res.Err.Error()
	}
	switch res.Kind {
	case mode.InvalidInput:
		p.Type, p.Title, p.Status = ProblemTypeBadRequest, "Bad Request", http.StatusBadRequest
	case mode.AuthFailed:
		p.Type, p.Title, p.Status = ProblemTypeAuthFailed, "Authentication Failed", http.StatusUnauthorized
	case mode.NetworkNotFound:
		p.Type, p.Title, p.Status = ProblemTypeNetworkNotFound, "Network Not Found", http.StatusNotFound
	case mode.Timeout:
		p.Type, p.Title, p.Status = ProblemTypeTimeout, "Association Timed Out", http.StatusGatewayTimeout
	case mode.Busy:
		p.Type, p.Title, p.Status = ProblemTypeConflict, "Connect In Progress", http.StatusConflict
	default:
		p.Type, p.Title, p.Status = ProblemTypeConnectFailed, "Connect Failed", http.StatusBadGateway
	}
	return p
}
