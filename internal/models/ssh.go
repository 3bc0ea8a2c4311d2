package models

// CommandResult holds the outcome of running a shell command, locally or over SSH.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Error    error // set when the command could not be started at all
}
