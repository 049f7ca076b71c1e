package flow

// Status is where a transaction is in its lifecycle.
type Status string

const (
	StatusBuilding             Status = "BUILDING"
	StatusLocallySigned        Status = "LOCALLY_SIGNED"
	StatusCollectingSignatures Status = "COLLECTING_SIGNATURES"
	StatusFullySigned          Status = "FULLY_SIGNED"
	StatusSubmitted            Status = "SUBMITTED"
	StatusFinalized            Status = "FINALIZED"
	StatusRejected             Status = "REJECTED"
)

var validNext = map[Status]map[Status]bool{
	StatusBuilding:             {StatusLocallySigned: true},
	StatusLocallySigned:        {StatusCollectingSignatures: true, StatusFullySigned: true},
	StatusCollectingSignatures: {StatusFullySigned: true},
	StatusFullySigned:          {StatusSubmitted: true},
	StatusSubmitted:            {StatusFinalized: true, StatusRejected: true},
	StatusFinalized:            {},
	StatusRejected:             {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
