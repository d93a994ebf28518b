// Package gate wraps every worker invocation in governance checkpoints:
// permission before execution, validation after, and a detached execution
// report once the task settles. The gate is fail-safe: when the collaborator
// is unreachable, times out, or its circuit is open, permission resolves to
// DENY and validation to FLAG_FOR_REVIEW rather than letting work proceed
// unchecked.
package gate
