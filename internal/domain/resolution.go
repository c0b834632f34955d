package domain

// Resolution is what a tier hands to the answer assembler. Only the assembler
// turns it into an Answer.
type Resolution struct {
	Origin      Origin
	Text        string
	Reliability float64
	Events      []OutcomeEvent
	Degradation DegradationReason
	Refused     bool
	Evidence    Evidence
	// ProbeRefs are the probe references that produced Evidence, in the form
	// accepted by ParseProbeRef. A learned recipe replays them.
	ProbeRefs  []string
	Iterations int
	RecipeID   string
}
