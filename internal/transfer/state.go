package transfer

// State is a position in the transfer dialog. Client and server share the
// naming; each side only visits the states that apply to it.
type State int

const (
	StateIdle State = iota
	StateSendingRequest
	StateAwaitingRequest
	StateTransferringFiles
	StateAwaitingResult
	StateAnalyzing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSendingRequest:
		return "sending-request"
	case StateAwaitingRequest:
		return "awaiting-request"
	case StateTransferringFiles:
		return "transferring-files"
	case StateAwaitingResult:
		return "awaiting-result"
	case StateAnalyzing:
		return "analyzing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
