package api

import (
	"github.com/netfence/wifisplit/internal/enforcer"
	"github.com/netfence/wifisplit/internal/selfcheck"
)

// DataResponse wraps successful responses with a "data" field.
type DataResponse struct {
	Data interface{} `json:"data"`
}

// StatusResponse returns the enforcement status.
type StatusResponse struct {
	Version string          `json:"version"`
	Status  enforcer.Status `json:"status"`
}

// PolicyResponse returns the effective policy after CIDR parsing.
type PolicyResponse struct {
	Included []string `json:"included"`
	Excluded []string `json:"excluded"`
	// Routes is the computed cutout set the policy expands to.
	Routes []string `json:"routes"`
}

// HealthResponse returns self-check results.
type HealthResponse struct {
	Healthy bool               `json:"healthy"`
	Checks  []selfcheck.Result `json:"checks"`
}

// ServiceControlRequest triggers an enforcement action.
type ServiceControlRequest struct {
	Action string `json:"action"` // "reapply" or "teardown"
}

// ServiceControlResponse returns the result of a service control operation.
type ServiceControlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
