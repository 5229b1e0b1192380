package call

// Cause is the normalized reason a call ended.
type Cause string

const (
	CauseNormal         Cause = "normal"
	CauseBusy           Cause = "busy"
	CauseNoAnswer       Cause = "no-answer"
	CauseRejected       Cause = "rejected"
	CauseCongestion     Cause = "congestion"
	CauseFailed         Cause = "failed"
	CauseUnknown        Cause = "unknown"
	CauseConnectionLost Cause = "connection-lost"
)

// CauseTable maps the server's numeric hangup cause codes (Q.850-style) to
// normalized causes. The exact code set varies by PBX version, so the table
// is overridable from configuration; unlisted codes map to CauseUnknown.
type CauseTable map[int]Cause

// DefaultCauses returns the built-in cause table.
func DefaultCauses() CauseTable {
	return CauseTable{
		1:   CauseFailed,     // unallocated number
		16:  CauseNormal,     // normal clearing
		17:  CauseBusy,       // user busy
		18:  CauseNoAnswer,   // no user responding
		19:  CauseNoAnswer,   // no answer within timeout
		21:  CauseRejected,   // call rejected
		27:  CauseFailed,     // destination out of order
		28:  CauseFailed,     // invalid number format
		31:  CauseNormal,     // normal, unspecified
		34:  CauseCongestion, // no circuit available
		38:  CauseFailed,     // network out of order
		42:  CauseCongestion, // switching equipment congestion
		127: CauseFailed,     // interworking, unspecified
	}
}

// NewCauseTable builds a table from the defaults plus configured overrides.
func NewCauseTable(overrides map[int]string) CauseTable {
	t := DefaultCauses()
	for code, cause := range overrides {
		t[code] = Cause(cause)
	}
	return t
}

// Lookup resolves a numeric cause code, falling back to CauseUnknown.
func (t CauseTable) Lookup(code int) Cause {
	if c, ok := t[code]; ok {
		return c
	}
	return CauseUnknown
}
