package process

// ProcessSignal is a portable stop request for the host process.
type ProcessSignal int

const (
	SignalTerminate ProcessSignal = iota
	SignalInterrupt
	SignalKill
)

func (s ProcessSignal) String() string {
	switch s {
	case SignalTerminate:
		return "terminate"
	case SignalInterrupt:
		return "interrupt"
	case SignalKill:
		return "kill"
	default:
		return "unknown"
	}
}
