package domain

import "time"

// Intent is the classified category of a question.
type Intent string

const (
	IntentMemoryTotal   Intent = "memory-total"
	IntentCPUCores      Intent = "cpu-cores"
	IntentDiskFree      Intent = "disk-free"
	IntentDebugToggle   Intent = "debug-toggle"
	IntentSelfHealth    Intent = "self-health"
	IntentServiceHealth Intent = "service-health"
	IntentResourceUsage Intent = "resource-usage"
	IntentNetwork       Intent = "network"
	IntentConfiguration Intent = "configuration"
	IntentUnclassified  Intent = "unclassified"
)

// KnownIntents lists every intent the classifier can emit.
func KnownIntents() []Intent {
	return []Intent{
		IntentMemoryTotal,
		IntentCPUCores,
		IntentDiskFree,
		IntentDebugToggle,
		IntentSelfHealth,
		IntentServiceHealth,
		IntentResourceUsage,
		IntentNetwork,
		IntentConfiguration,
		IntentUnclassified,
	}
}

// ParseIntent maps a raw string to a known intent, falling back to unclassified.
func ParseIntent(raw string) Intent {
	for _, intent := range KnownIntents() {
		if string(intent) == raw {
			return intent
		}
	}
	return IntentUnclassified
}

// InteractionMode describes how the caller is talking to the daemon.
type InteractionMode string

const (
	ModeOneShot     InteractionMode = "one-shot"
	ModeInteractive InteractionMode = "interactive"
)

// ParseInteractionMode defaults to one-shot for unknown values.
func ParseInteractionMode(raw string) InteractionMode {
	if InteractionMode(raw) == ModeInteractive {
		return ModeInteractive
	}
	return ModeOneShot
}

// Question is immutable once classified. Subject carries the entity the
// question names, such as a systemd unit, when the classifier finds one.
type Question struct {
	ID         string
	Text       string
	Intent     Intent
	Tokens     []string
	Subject    string
	Mode       InteractionMode
	ReceivedAt time.Time
}

// DefaultProbes lists the probe references that usually answer the question's intent.
func (q Question) DefaultProbes() []string {
	switch q.Intent {
	case IntentMemoryTotal:
		return []string{"mem.info"}
	case IntentCPUCores:
		return []string{"cpu.info"}
	case IntentDiskFree:
		return []string{"disk.root"}
	case IntentServiceHealth:
		if q.Subject != "" {
			return []string{
				FormatProbeRef("service.status", map[string]string{"unit": q.Subject}),
				FormatProbeRef("journal.unit", map[string]string{"unit": q.Subject}),
			}
		}
		return []string{"services.failed"}
	case IntentResourceUsage:
		return []string{"system.load", "mem.info", "system.uptime"}
	case IntentNetwork:
		return []string{"net.interfaces"}
	case IntentConfiguration:
		return []string{"os.release", "kernel.version"}
	default:
		return []string{"system.uptime", "os.release"}
	}
}
