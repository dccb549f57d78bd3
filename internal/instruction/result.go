package instruction

// Result is the outcome of applying one instruction.
type Result struct {
	Valid  bool
	Code   int
	Reason string
}

// OK is the result of a successfully applied instruction.
func OK() Result {
	return Result{Valid: true}
}

// Rejected builds an invalid result.
func Rejected(code int, reason string) Result {
	return Result{Code: code, Reason: reason}
}
