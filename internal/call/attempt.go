package call

// CreateAttempt walks the candidate accounts a call may be placed on.
// Non-emergency calls carry a single candidate; emergency calls carry every
// emergency-capable account so a failed attempt can move to the next one.
type CreateAttempt struct {
	candidates []AccountHandle
	index      int
	complete   bool
	timedOut   bool
	retry      func(*Call)
}

// NewCreateAttempt starts before the first candidate; call Next to begin.
// retry is invoked when a disconnect is suppressed in favor of the next candidate.
func NewCreateAttempt(candidates []AccountHandle, retry func(*Call)) *CreateAttempt {
	cp := make([]AccountHandle, len(candidates))
	copy(cp, candidates)
	return &CreateAttempt{candidates: cp, index: -1, retry: retry}
}

// Next advances to the following candidate and resets per-attempt flags.
func (a *CreateAttempt) Next() (AccountHandle, bool) {
	if !a.HasMore() {
		return AccountHandle{}, false
	}
	a.index++
	a.complete = false
	a.timedOut = false
	return a.candidates[a.index], true
}

func (a *CreateAttempt) Current() AccountHandle {
	if a.index < 0 || a.index >= len(a.candidates) {
		return AccountHandle{}
	}
	return a.candidates[a.index]
}

func (a *CreateAttempt) HasMore() bool { return a.index+1 < len(a.candidates) }

func (a *CreateAttempt) Candidates() []AccountHandle {
	cp := make([]AccountHandle, len(a.candidates))
	copy(cp, a.candidates)
	return cp
}

// MarkComplete records that the current candidate produced a connection.
func (a *CreateAttempt) MarkComplete()    { a.complete = true }
func (a *CreateAttempt) IsComplete() bool { return a.complete }

func (a *CreateAttempt) MarkTimedOut()  { a.timedOut = true }
func (a *CreateAttempt) TimedOut() bool { return a.timedOut }
