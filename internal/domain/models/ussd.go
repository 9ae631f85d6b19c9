package models

// USSDRequest mirrors the callback body posted by the USSD aggregator for
// every step of a session. Text accumulates the caller's inputs joined
// by '*' (e.g. "1*CT-2024-0042*3").
type USSDRequest struct {
	SessionID   string `form:"sessionId" json:"sessionId" binding:"required"`
	ServiceCode string `form:"serviceCode" json:"serviceCode"`
	PhoneNumber string `form:"phoneNumber" json:"phoneNumber" binding:"required"`
	Text        string `form:"text" json:"text"`
}

// USSDSession holds the conversation state accumulated across callback hops
// of one aggregator session.
type USSDSession struct {
	Step    string
	BatchID string
}

// USSD conversation steps.
const (
	USSDStepMenu      = "MENU"
	USSDStepBatchID   = "BATCH_ID"
	USSDStepStage     = "STAGE"
	USSDStepStatusLot = "STATUS_LOT"
)
