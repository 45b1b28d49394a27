package link

// FilterState is the state of a TypeFilter.
type FilterState int

const (
	// FilterWaiting means no frame of the wanted type is received yet.
	FilterWaiting FilterState = iota
	// FilterMatched means a frame of the wanted type is received.
	FilterMatched
)

// String implements fmt.Stringer.
func (s FilterState) String() string {
	if s == FilterMatched {
		return "MATCHED"
	}
	return "WAITING"
}

// TypeFilter decides which received frames are discarded while
// waiting for a specific type. Discarded frames are dropped, not queued.
type TypeFilter struct {
	Want       Magic
	MaxDiscard int // 0 for unlimited

	state     FilterState
	discarded int
}

// State gets the current state.
func (f *TypeFilter) State() FilterState {
	return f.state
}

// Discarded returns the number of frames discarded so far.
func (f *TypeFilter) Discarded() int {
	return f.discarded
}

// Reset restarts waiting.
func (f *TypeFilter) Reset() {
	f.state, f.discarded = FilterWaiting, 0
}

// Feed consumes the magic of a received frame.
// ErrDiscardLimit is returned when the frame is discarded and more
// than MaxDiscard frames have been discarded.
func (f *TypeFilter) Feed(m Magic) (FilterState, error) {
	if f.state == FilterMatched {
		return f.state, nil
	}
	if m == f.Want {
		f.state = FilterMatched
		return f.state, nil
	}
	f.discarded++
	if f.MaxDiscard > 0 && f.discarded > f.MaxDiscard {
		return f.state, ErrDiscardLimit
	}
	return f.state, nil
}
