package entities

// Stage tracks where a recommendation round trip currently is.
type Stage int

const (
	StageAwaitingBaseline Stage = iota
	StageAwaitingResponse
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingBaseline:
		return "awaiting-baseline"
	case StageAwaitingResponse:
		return "awaiting-response"
	case StageDone:
		return "done"
	default:
		return "invalid"
	}
}

// RequestCorrelation lives for one recommendation run. The channel name is the
// only thing tying a response to its request.
type RequestCorrelation struct {
	DeviceID string
	Stage    Stage
}
