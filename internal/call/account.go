package call

import "fmt"

// AccountHandle identifies a phone account on a provider.
type AccountHandle struct {
	Provider string `json:"provider" mapstructure:"provider"`
	ID       string `json:"id" mapstructure:"id"`
}

func (h AccountHandle) IsZero() bool { return h.Provider == "" && h.ID == "" }

func (h AccountHandle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s/%s", h.Provider, h.ID)
}

// Account is a registered phone account and the policy attached to it.
type Account struct {
	Handle               AccountHandle `mapstructure:",squash"`
	Label                string        `mapstructure:"label"`
	SelfManaged          bool          `mapstructure:"self_managed"`
	SupportsVideo        bool          `mapstructure:"video"`
	EmergencyCapable     bool          `mapstructure:"emergency"`
	SupportsHandoverFrom bool          `mapstructure:"handover_from"`
	SupportsHandoverTo   bool          `mapstructure:"handover_to"`
	Priority             int           `mapstructure:"priority"`
	Disabled             bool          `mapstructure:"disabled"`
}
