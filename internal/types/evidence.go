package types

// EvidenceKind classifies validator misbehavior.
type EvidenceKind string

const (
	EvidenceDoubleSign    EvidenceKind = "double_sign"
	EvidenceMissedBlocks  EvidenceKind = "missed_blocks"
)

// Evidence is a structured record proving validator misbehavior, produced
// by the slashing manager before it calls the ledger's SlashValidator and
// JailValidator.
type Evidence struct {
	Kind      EvidenceKind   `json:"kind"`
	Validator string         `json:"validator"`
	Height    uint64         `json:"height"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
