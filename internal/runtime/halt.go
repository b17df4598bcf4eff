package runtime

import "context"

type haltKey struct{}

// WithHalt returns a context carrying a halt signal.
// Once halt is closed the interpreter lets the running node finish and starts no other.
func WithHalt(ctx context.Context, halt <-chan struct{}) context.Context {
	return context.WithValue(ctx, haltKey{}, halt)
}

func halted(ctx context.Context) bool {
	halt, ok := ctx.Value(haltKey{}).(<-chan struct{})
	if !ok {
		return false
	}
	select {
	case <-halt:
		return true
	default:
		return false
	}
}
