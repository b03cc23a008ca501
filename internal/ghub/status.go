package ghub

// CIStatus summarizes the CI check state of a pull request head
type CIStatus struct {
	// State is the rolled-up state: "success", "failure", "pending", or
	// "unknown" when no checks are configured
	State  string  `json:"state"`
	Checks []Check `json:"checks,omitempty"`
}

// Check is a single CI check run
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	DetailsURL string `json:"detailsURL,omitempty"`
}

// Summarize rolls individual check runs up into a single state, the way the
// GitHub UI does: any failure wins, then any still-running check, then
// success
func Summarize(checks []Check) CIStatus {
	status := CIStatus{State: "unknown", Checks: checks}
	if len(checks) == 0 {
		return status
	}

	status.State = "success"
	for _, c := range checks {
		switch {
		case c.Conclusion == "failure" || c.Conclusion == "timed_out" || c.Conclusion == "cancelled":
			status.State = "failure"
			return status
		case c.Status != "completed":
			status.State = "pending"
		}
	}
	return status
}
