package api

import (
	"encoding/json"
	"net/http"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/firewall"
	"github.com/netfence/wifisplit/internal/selfcheck"
)

// ServiceController is the slice of the enforcement service the API can
// drive. Implemented by the service command, so the API never imports the
// commands package.
type ServiceController interface {
	Status() enforcer.Status
	Reapply() error
	Teardown() error
}

// HealthChecker runs the self-check suite. May be nil when the daemon runs
// without one.
type HealthChecker interface {
	Run() []selfcheck.Result
}

// Handler manages all API endpoints and dependencies.
type Handler struct {
	version string
	policy  *cidr.Policy
	service ServiceController
	checker HealthChecker
}

// NewHandler creates a new API handler.
func NewHandler(version string, policy *cidr.Policy, service ServiceController, checker HealthChecker) *Handler {
	return &Handler{
		version: version,
		policy:  policy,
		service: service,
		checker: checker,
	}
}

// GetStatus returns the enforcement status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSONData(w, StatusResponse{
		Version: h.version,
		Status:  h.service.Status(),
	})
}

// GetPolicy returns the effective policy and its computed cutout routes.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	resp := PolicyResponse{}
	for _, b := range h.policy.Included {
		resp.Included = append(resp.Included, b.String())
	}
	for _, b := range h.policy.Excluded {
		resp.Excluded = append(resp.Excluded, b.String())
	}
	for _, b := range firewall.CompileRoutes(h.policy) {
		resp.Routes = append(resp.Routes, b.String())
	}
	writeJSONData(w, resp)
}

// CheckHealth runs the self-check suite and returns the results.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		WriteNotFound(w, "self-check is not available")
		return
	}

	results := h.checker.Run()
	writeJSONData(w, HealthResponse{
		Healthy: selfcheck.Healthy(results),
		Checks:  results,
	})
}

// ControlService triggers a re-apply or teardown.
func (h *Handler) ControlService(w http.ResponseWriter, r *http.Request) {
	var req ServiceControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalidRequest(w, "invalid request body: "+err.Error())
		return
	}

	var err error
	switch req.Action {
	case "reapply":
		err = h.service.Reapply()
	case "teardown":
		err = h.service.Teardown()
	default:
		WriteInvalidRequest(w, "action must be \"reapply\" or \"teardown\"")
		return
	}
	if err != nil {
		WriteServiceError(w, err.Error())
		return
	}

	writeJSONData(w, ServiceControlResponse{
		Status:  "accepted",
		Message: "requested " + req.Action,
	})
}

// writeJSONData writes a successful JSON response with data.
func writeJSONData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(DataResponse{Data: data})
}
