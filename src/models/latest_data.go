package models

// -----------------------------------------------------------------------------
// Relay Status Structure (served on /status)
// -----------------------------------------------------------------------------

type MRelayStatus struct {
	Status        string `json:"status"`
	Started       bool   `json:"started"`
	IngesterState string `json:"ingester_state"`
	Connections   int    `json:"connections"`
	LatestSlot    uint64 `json:"latest_slot,omitempty"`
	LatestType    string `json:"latest_type,omitempty"`
}

// -----------------------------------------------------------------------------
// Subscription Filter (sent upstream on every connect)
// -----------------------------------------------------------------------------

type MFilter struct {
	Slots      bool     `json:"slots"`
	Accounts   []string `json:"accounts"`
	Mentions   []string `json:"mentions"`
	Channels   []string `json:"channels"`
	Commitment string   `json:"commitment"`
}
