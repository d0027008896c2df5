package enforcer

// Status is the externally visible enforcement state. The state field
// always resolves to disabled, active or failed: the transitional
// Applying/TearingDown windows report as the steady state the transition
// started from.
type Status struct {
	Interface        string       `json:"interface"`
	State            State        `json:"state"`
	Reason           string       `json:"reason,omitempty"`
	Retries          int          `json:"retries"`
	RetriesExhausted bool         `json:"retries_exhausted,omitempty"`
	Gateway          string       `json:"gateway,omitempty"`
	Routes           []string     `json:"routes,omitempty"`
	Backup           *RouteBackup `json:"backup,omitempty"`
}

// Status returns a snapshot of the enforcement state. Safe to call from
// any goroutine.
func (e *Enforcer) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		Interface:        e.opts.Interface,
		State:            e.state,
		Reason:           e.failReason,
		Retries:          e.retries,
		RetriesExhausted: e.retriesExhausted,
	}

	// Collapse transitional states onto the three public ones.
	switch e.state {
	case StateApplying, StateTearingDown:
		status.State = e.prevState
		if status.State == "" {
			status.State = StateDisabled
		}
	}

	if e.gateway != nil {
		status.Gateway = e.gateway.String()
	}
	for _, dst := range e.routes {
		status.Routes = append(status.Routes, dst.String())
	}

	if backup, err := e.backups.Load(e.opts.Interface); err == nil {
		status.Backup = backup
	}

	return status
}
