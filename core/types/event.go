package types

// Event represents a typed event emitted during state transitions. Sequence is
// assigned by the ledger that committed the event and increases by one per
// event; Height is the block height the event was committed at.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Height     uint64            `json:"height"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
