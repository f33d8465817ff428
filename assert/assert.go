// Package assert provides fatal assertions for conditions that can only be
// violated by misusing the framework (bad indices, nil collaborators, calls
// made from the wrong place). They panic rather than return errors.
//
// Build with the assertions_disabled tag to compile them out.
package assert

import "fmt"

// message renders the optional assertion arguments:
// - If the first arg is a string, it's used as a format string with remaining args.
// - Otherwise, all args are included in the panic message.
func message(args []any) string {
	if len(args) == 0 {
		return "assertion failed"
	}

	if format, ok := args[0].(string); ok {
		return fmt.Sprintf(format, args[1:]...)
	}

	return fmt.Sprintf("assertion failed: %v", args)
}
