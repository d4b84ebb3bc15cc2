package simulate

import "fmt"

// WarningKind names one of the non-fatal conditions the simulator can
// raise (spec.md §6, "Warning stream"; §7, "Unknown bytecode").
type WarningKind string

const (
	// DecompileDataLeftoverWarning: the fragment's expression stack was
	// non-empty at simulation end (spec.md §7, "Policy").
	DecompileDataLeftoverWarning WarningKind = "DecompileDataLeftoverWarning"
	// UnknownOpcodeWarning: an opcode or extended-opcode outside the core
	// set was encountered; a placeholder statement was emitted in its
	// place (spec.md §7, "Unknown bytecode").
	UnknownOpcodeWarning WarningKind = "UnknownOpcodeWarning"
	// UnsupportedPushReferenceWarning: a PushReference extended opcode was
	// encountered — out of core scope per spec.md §4.3, "Extended".
	UnsupportedPushReferenceWarning WarningKind = "UnsupportedPushReferenceWarning"
)

// Warning is one non-fatal condition recorded during simulation, carrying
// the code entry name and kind-specific payload (spec.md §6).
type Warning struct {
	Kind      WarningKind
	EntryName string

	// NumberOfElements is set for DecompileDataLeftoverWarning: the count
	// of expressions still on the stack at fragment end.
	NumberOfElements int

	// Opcode is set for UnknownOpcodeWarning: the unrecognized opcode's
	// name. Extended is set for warnings raised by Extended dispatch
	// (UnsupportedPushReferenceWarning, and UnknownOpcodeWarning for an
	// unknown extended opcode): the extended-opcode value.
	Opcode   string
	Extended int

	// Address is the instruction address the warning was raised at, for
	// diagnostics.
	Address int
}

func (w Warning) String() string {
	switch w.Kind {
	case DecompileDataLeftoverWarning:
		return fmt.Sprintf("%s: %d item(s) left on stack in %q", w.Kind, w.NumberOfElements, w.EntryName)
	case UnknownOpcodeWarning:
		return fmt.Sprintf("%s: opcode %s at %d in %q", w.Kind, w.Opcode, w.Address, w.EntryName)
	case UnsupportedPushReferenceWarning:
		return fmt.Sprintf("%s: PushReference at %d in %q", w.Kind, w.Address, w.EntryName)
	default:
		return fmt.Sprintf("%s in %q", w.Kind, w.EntryName)
	}
}
