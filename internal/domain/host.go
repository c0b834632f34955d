package domain

// HostSnapshot holds host facts injected into prompts and doctor output.
type HostSnapshot struct {
	Hostname       string
	OS             string
	Arch           string
	Kernel         string
	CPUCount       int
	User           string
	AvailableTools []string
}
