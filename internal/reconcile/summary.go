package reconcile

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Failure is one record the sweep could not provision.
type Failure struct {
	SourceTable string
	Email       string
	Message     string
}

// String renders the failure line printed by the command.
func (f Failure) String() string {
	return fmt.Sprintf("[%s] %s: %s", f.SourceTable, f.Email, f.Message)
}

// Summary aggregates one reconciliation run.
type Summary struct {
	RunID               string
	DryRun              bool
	EnumerationFailed   bool
	Created             int
	Existing            int
	SkippedNoEmail      int
	SkippedWeakPassword int
	Failed              int
	Failures            []Failure
}

// HasFailures reports whether any record failed to provision.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// Render produces the tabular report printed on completion.
func (s Summary) Render() string {
	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "run\t%s\n", s.RunID)
	if s.DryRun {
		fmt.Fprintf(writer, "mode\tdry-run\n")
	}
	if s.EnumerationFailed {
		fmt.Fprintf(writer, "warning\taccount enumeration failed; duplicate detection unreliable\n")
	}
	fmt.Fprintf(writer, "created\t%d\n", s.Created)
	fmt.Fprintf(writer, "existing\t%d\n", s.Existing)
	fmt.Fprintf(writer, "skipped (no email)\t%d\n", s.SkippedNoEmail)
	fmt.Fprintf(writer, "skipped (weak password)\t%d\n", s.SkippedWeakPassword)
	fmt.Fprintf(writer, "failed\t%d\n", s.Failed)
	writer.Flush()
	for _, failure := range s.Failures {
		builder.WriteString(failure.String())
		builder.WriteString("\n")
	}
	return builder.String()
}
