package domain

// Stage names one step of a question's resolution.
type Stage string

const (
	StageFastPath Stage = "fast-path"
	StageCache    Stage = "cache"
	StageProbes   Stage = "probes"
	StageDrafting Stage = "drafting"
	StageAuditing Stage = "auditing"
)

// Stages lists stages in execution order.
func Stages() []Stage {
	return []Stage{StageFastPath, StageCache, StageProbes, StageDrafting, StageAuditing}
}
