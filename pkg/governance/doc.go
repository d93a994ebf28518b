// Package governance provides implementations of the external governance
// collaborator contract: an embedded OPA evaluator for self-contained
// deployments and an HTTP client for a remote governance service.
//
// Both implementations satisfy domain.GovernanceService. Fail-safe behaviour
// (substituting DENY or FLAG_FOR_REVIEW when a collaborator misbehaves) is
// the gate's responsibility, not the collaborator's: implementations here
// return honest errors and let the caller decide.
package governance
