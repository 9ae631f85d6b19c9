package models

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies one position in the fixed supply-chain sequence a batch
// passes through. Stages are totally ordered; transition validity is decided
// by that order alone.
type Stage string

const (
	StageFarmer         Stage = "farmer"
	StageWashingStation Stage = "washing_station"
	StageFactory        Stage = "factory"
	StageExporter       Stage = "exporter"
	StageImporter       Stage = "importer"
	StageRetailer       Stage = "retailer"
)

var stageOrder = map[Stage]int{
	StageFarmer:         0,
	StageWashingStation: 1,
	StageFactory:        2,
	StageExporter:       3,
	StageImporter:       4,
	StageRetailer:       5,
}

// AllStages returns the stages in supply-chain order.
func AllStages() []Stage {
	return []Stage{
		StageFarmer,
		StageWashingStation,
		StageFactory,
		StageExporter,
		StageImporter,
		StageRetailer,
	}
}

// Index returns the stage's position in the total order, or -1 for an
// unknown stage.
func (s Stage) Index() int {
	if idx, ok := stageOrder[s]; ok {
		return idx
	}
	return -1
}

// Valid reports whether the stage is a member of the enumeration.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// ParseStage normalizes free-form input into a Stage.
func ParseStage(raw string) (Stage, error) {
	normalized := Stage(strings.ReplaceAll(strings.TrimSpace(strings.ToLower(raw)), " ", "_"))
	if !normalized.Valid() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return normalized, nil
}

// Batch is the traceable unit of product (a coffee or tea lot). The row is
// mutated exclusively by the stage engine after registration; it is never
// hard-deleted, only marked via DeletedAt.
type Batch struct {
	ID               string     `bson:"_id" json:"id"`
	LotCode          string     `bson:"lot_code,omitempty" json:"lot_code,omitempty"`
	Product          string     `bson:"product" json:"product"`
	Origin           string     `bson:"origin,omitempty" json:"origin,omitempty"`
	Variety          string     `bson:"variety,omitempty" json:"variety,omitempty"`
	CurrentStage     Stage      `bson:"current_stage" json:"current_stage"`
	FarmerID         string     `bson:"farmer_id" json:"farmer_id"`
	WashingStationID string     `bson:"washing_station_id,omitempty" json:"washing_station_id,omitempty"`
	FactoryID        string     `bson:"factory_id,omitempty" json:"factory_id,omitempty"`
	ExporterID       string     `bson:"exporter_id,omitempty" json:"exporter_id,omitempty"`
	ImporterID       string     `bson:"importer_id,omitempty" json:"importer_id,omitempty"`
	RetailerID       string     `bson:"retailer_id,omitempty" json:"retailer_id,omitempty"`
	BlockchainTxHash string     `bson:"blockchain_tx_hash,omitempty" json:"blockchain_tx_hash,omitempty"`
	CreatedAt        time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `bson:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
}

// ParticipantID returns the actor recorded for the given stage, if any.
func (b *Batch) ParticipantID(stage Stage) string {
	switch stage {
	case StageFarmer:
		return b.FarmerID
	case StageWashingStation:
		return b.WashingStationID
	case StageFactory:
		return b.FactoryID
	case StageExporter:
		return b.ExporterID
	case StageImporter:
		return b.ImporterID
	case StageRetailer:
		return b.RetailerID
	}
	return ""
}

// BatchView is a Batch expanded with resolved participant display names.
// It exists for dashboard and USSD rendering; name resolution is a
// convenience, never a correctness requirement.
type BatchView struct {
	Batch
	ParticipantNames map[Stage]string `json:"participant_names,omitempty"`
}

// RegisterBatchInput carries the fields accepted when a farmer registers a
// new lot.
type RegisterBatchInput struct {
	Product  string `json:"product" binding:"required"`
	LotCode  string `json:"lot_code"`
	FarmerID string `json:"farmer_id" binding:"required"`
	Origin   string `json:"origin"`
	Variety  string `json:"variety"`
}

// Participant is a supply-chain actor (farmer, station operator, exporter...)
// referenced by batches and history entries.
type Participant struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"display_name" json:"display_name"`
	Role        Stage  `bson:"role" json:"role"`
	Phone       string `bson:"phone,omitempty" json:"phone,omitempty"`
}
