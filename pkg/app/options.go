package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the options of every command. Flags
// are grouped into named sections for help output.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets of the command, one per concern.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields.
	Complete() error

	// Validate reports every invalid field at once.
	Validate() error
}
