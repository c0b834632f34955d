package commands

import "github.com/spf13/cobra"

// Annotation keys understood by the root command.
const (
	// annotationContainer is "none" for commands that never touch state and
	// "owned" for commands that close the container themselves.
	annotationContainer = "hostq.container"
	containerNone       = "none"
	containerOwned      = "owned"
)

// Error messages
const (
	ErrConfigLoaderUnavailable  = "config loader unavailable"
	ErrDoctorServiceUnavailable = "doctor service unavailable"
	ErrHistoryStoreUnavailable  = "history store unavailable"
	ErrRecipeStoreUnavailable   = "recipe store unavailable"
	ErrProbeRunnerUnavailable   = "probe runner unavailable"
	ErrInvalidRetainDays        = "--days must be > 0"
	ErrInvalidProbeParam        = "probe parameters must look like key=value"
)

// Success messages
const (
	MsgConfigurationValid       = "Configuration valid"
	MsgNoDifferencesFromDefault = "No differences from default configuration."
	MsgNoHistoryRecorded        = "No history recorded yet."
	MsgNoRecipes                = "No learned recipes."
)

// NeedsContainer reports whether cmd requires the application container.
func NeedsContainer(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return false
	}
	return cmd.Annotations[annotationContainer] != containerNone
}

// OwnsContainer reports whether cmd closes the container itself.
func OwnsContainer(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationContainer] == containerOwned
}
