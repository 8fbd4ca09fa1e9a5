package market

// Status represents the lifecycle stage of a market
type Status int

const (
	StatusUninitialized Status = iota // Created, awaiting Initialize
	StatusOpen                        // Minting and redeeming complete sets
	StatusResolved                    // Winner set, claims open
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusOpen:
		return "open"
	case StatusResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Status derives the lifecycle stage from the stored fields
func (m *Market) Status() Status {
	switch {
	case !m.IsInitialized():
		return StatusUninitialized
	case m.IsResolved():
		return StatusResolved
	default:
		return StatusOpen
	}
}

// Expired reports whether now is at or after the expiration time
func (m *Market) Expired(now int64) bool {
	return m.IsInitialized() && now >= m.ExpirationTime
}

// AwaitingResolution reports whether the oracle may resolve the market at now
func (m *Market) AwaitingResolution(now int64) bool {
	return m.Status() == StatusOpen && m.Expired(now)
}
