package simulate

import "fmt"

// Error is a fatal simulation failure: a stack-invariant violation or a
// malformed structural input the simulator cannot reconcile (spec.md §7,
// "Stack-invariant" and "Structural").
type Error struct {
	EntryName string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("simulate: entry %q: %s", e.EntryName, e.Message)
}
