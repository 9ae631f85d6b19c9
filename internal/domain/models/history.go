package models

import "time"

// StageHistoryEntry is one immutable audit record of a stage transition.
// Entries are only ever inserted; the full sequence for a batch, ordered by
// CreatedAt, reconstructs the batch's stage progression.
type StageHistoryEntry struct {
	ID               string         `bson:"_id" json:"id"`
	BatchID          string         `bson:"batch_id" json:"batch_id"`
	Stage            Stage          `bson:"stage" json:"stage"`
	ChangedBy        string         `bson:"changed_by" json:"changed_by"`
	Notes            string         `bson:"notes,omitempty" json:"notes,omitempty"`
	Quantity         *float64       `bson:"quantity,omitempty" json:"quantity,omitempty"`
	Quality          string         `bson:"quality,omitempty" json:"quality,omitempty"`
	Location         string         `bson:"location,omitempty" json:"location,omitempty"`
	BlockchainTxHash string         `bson:"blockchain_tx_hash,omitempty" json:"blockchain_tx_hash,omitempty"`
	Metadata         map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt        time.Time      `bson:"created_at" json:"created_at"`
}

// StageUpdateInput carries the caller-supplied fields for one stage update.
// Stage and ChangedBy are required; everything else is optional metadata
// recorded on the history entry.
type StageUpdateInput struct {
	Stage            Stage          `json:"stage" binding:"required"`
	ChangedBy        string         `json:"changed_by" binding:"required"`
	BlockchainTxHash string         `json:"blockchain_tx_hash"`
	Notes            string         `json:"notes"`
	Quantity         *float64       `json:"quantity"`
	Quality          string         `json:"quality"`
	Location         string         `json:"location"`
	Metadata         map[string]any `json:"metadata"`
}

// TraceReport aggregates one day's stage transitions for co-op reporting.
type TraceReport struct {
	Date        time.Time     `bson:"date" json:"date"`
	Transitions map[Stage]int `bson:"transitions" json:"transitions"`
	Total       int           `bson:"total" json:"total"`
	CreatedAt   time.Time     `bson:"created_at" json:"created_at"`
}
