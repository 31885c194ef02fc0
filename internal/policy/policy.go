// Package policy persists the connectivity override flags. The flags are
// read fresh at every decision point rather than cached, so an operator
// toggle takes effect on the very next check.
package policy

// Policy holds the three override flags.
//
// BypassChecks forces every stage to succeed without probing.
// ForceDirectAPI disables the fallback transports for the API stage.
// OfflineMode tells the rest of the application to run on simulated data;
// it is sticky and only cleared by an explicit disable.
type Policy struct {
	BypassChecks   bool `json:"bypass_checks"`
	ForceDirectAPI bool `json:"force_direct_api"`
	OfflineMode    bool `json:"offline_mode"`
}

// Store is durable key/value persistence for Policy. Implementations hold
// no business logic; defaults (all false) apply when a flag was never set.
type Store interface {
	Load() (Policy, error)
	SetBypassChecks(v bool) error
	SetForceDirectAPI(v bool) error
	SetOfflineMode(v bool) error
	Close() error
}
