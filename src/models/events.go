package models

// -----------------------------------------------------------------------------
// Message Types
// -----------------------------------------------------------------------------

// MessageType is the value of the "type" tag carried by every frame.
type MessageType string

const (
	TypeSlotUpdate        MessageType = "SlotUpdate"
	TypeAccountUpdate     MessageType = "AccountUpdate"
	TypePriceUpdate       MessageType = "PriceUpdate"
	TypeTransactionUpdate MessageType = "TransactionUpdate"
	TypePing              MessageType = "Ping"
	TypePong              MessageType = "Pong"
	TypeSubscribe         MessageType = "Subscribe"
	TypeUnsubscribe       MessageType = "Unsubscribe"
	TypeIgnored           MessageType = "Ignored"
)

// Message is the closed set of frames exchanged on the streaming surface.
// Update variants flow relay -> client, control variants flow client -> relay.
// Values are immutable once constructed.
type Message interface {
	Type() MessageType
	isMessage()
}

// -----------------------------------------------------------------------------
// Update Variants
// -----------------------------------------------------------------------------

type MSlotUpdate struct {
	Slot      uint64 `json:"slot"`
	Parent    uint64 `json:"parent,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type MAccountUpdate struct {
	Pubkey    string `json:"pubkey"`
	Owner     string `json:"owner"`
	Lamports  uint64 `json:"lamports"`
	Slot      uint64 `json:"slot"`
	Timestamp int64  `json:"timestamp"`
}

type MPriceUpdate struct {
	InputMint  string  `json:"input_mint"`
	OutputMint string  `json:"output_mint"`
	Price      float64 `json:"price"`
	Volume     uint64  `json:"volume"`
	Timestamp  int64   `json:"timestamp"`
	Source     string  `json:"source,omitempty"`
}

type MTransactionUpdate struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Failed    bool   `json:"failed"`
	Timestamp int64  `json:"timestamp"`
}

type MPing struct{}

type MPong struct{}

// -----------------------------------------------------------------------------
// Control Variants
// -----------------------------------------------------------------------------

// MSubscribe expresses interest in opaque channel names such as "jupiter:SOL-USDC".
type MSubscribe struct {
	Channels []string `json:"channels"`
}

type MUnsubscribe struct {
	Channels []string `json:"channels"`
}

// MIgnored stands in for a well-formed frame whose category is not supported.
type MIgnored struct {
	Category string `json:"category"`
}

// -----------------------------------------------------------------------------

func (MSlotUpdate) Type() MessageType        { return TypeSlotUpdate }
func (MAccountUpdate) Type() MessageType     { return TypeAccountUpdate }
func (MPriceUpdate) Type() MessageType       { return TypePriceUpdate }
func (MTransactionUpdate) Type() MessageType { return TypeTransactionUpdate }
func (MPing) Type() MessageType              { return TypePing }
func (MPong) Type() MessageType              { return TypePong }
func (MSubscribe) Type() MessageType         { return TypeSubscribe }
func (MUnsubscribe) Type() MessageType       { return TypeUnsubscribe }
func (MIgnored) Type() MessageType           { return TypeIgnored }

func (MSlotUpdate) isMessage()        {}
func (MAccountUpdate) isMessage()     {}
func (MPriceUpdate) isMessage()       {}
func (MTransactionUpdate) isMessage() {}
func (MPing) isMessage()              {}
func (MPong) isMessage()              {}
func (MSubscribe) isMessage()         {}
func (MUnsubscribe) isMessage()       {}
func (MIgnored) isMessage()           {}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// IsSlotClass reports whether msg belongs in the latest-state cache.
func IsSlotClass(msg Message) bool {
	_, ok := msg.(MSlotUpdate)
	return ok
}

// SlotOf returns the slot number carried by msg, if any.
func SlotOf(msg Message) (uint64, bool) {
	switch m := msg.(type) {
	case MSlotUpdate:
		return m.Slot, true
	case MAccountUpdate:
		return m.Slot, true
	case MTransactionUpdate:
		return m.Slot, true
	}
	return 0, false
}
