package models

type ObservationKind string

const (
	ObservationWeather    ObservationKind = "weather"
	ObservationVegetation ObservationKind = "vegetation"
)

func (k ObservationKind) IsValid() bool {
	return k == ObservationWeather || k == ObservationVegetation
}

type ObservationStatus string

const (
	ObservationPending  ObservationStatus = "pending"
	ObservationVerified ObservationStatus = "verified"
	ObservationDisputed ObservationStatus = "disputed"
	ObservationRejected ObservationStatus = "rejected"
)

// CanTransitionTo reports whether status may advance to next. Status never
// moves back to pending; verified may still be disputed after the fact.
func (s ObservationStatus) CanTransitionTo(next ObservationStatus) bool {
	switch s {
	case ObservationPending:
		return next == ObservationVerified || next == ObservationDisputed || next == ObservationRejected
	case ObservationVerified:
		return next == ObservationDisputed
	default:
		return false
	}
}

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutCalculated PayoutStatus = "calculated"
	PayoutApproved   PayoutStatus = "approved"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
	PayoutRejected   PayoutStatus = "rejected"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutCalculated, PayoutRejected},
	PayoutCalculated: {PayoutApproved, PayoutRejected},
	PayoutApproved:   {PayoutProcessing},
	PayoutProcessing: {PayoutCompleted, PayoutFailed},
	PayoutFailed:     {PayoutApproved, PayoutCalculated},
}

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for completed and rejected. Failed is retryable.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutCompleted || s == PayoutRejected
}

type BatchStatus string

const (
	BatchCreated            BatchStatus = "created"
	BatchProcessing         BatchStatus = "processing"
	BatchProcessed          BatchStatus = "processed"
	BatchPartiallyProcessed BatchStatus = "partially_processed"
	BatchFailed             BatchStatus = "failed"
)

type AssessmentSource string

const (
	AssessmentSourceOracle   AssessmentSource = "oracle"
	AssessmentSourceOffchain AssessmentSource = "offchain"
)

type PolicyStatus string

const (
	PolicyActive    PolicyStatus = "active"
	PolicyTriggered PolicyStatus = "triggered"
	PolicyExpired   PolicyStatus = "expired"
	PolicyCancelled PolicyStatus = "cancelled"
)

type Role string

const (
	RoleProvider Role = "provider"
	RoleVerifier Role = "verifier"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)
