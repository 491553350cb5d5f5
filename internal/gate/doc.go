// Package gate decides whether a file action is allowed under the
// workflow policy.
//
// A check classifies the target path against the always-allowed patterns,
// then the protected rules (first match wins), and for a protected path
// requires an active workflow with a recorded spec, approval, and a phase
// at or past tdd_red. The gate is a pure tagged-result function; mapping
// its decision to a process exit code is the CLI adapter's job. On any
// internal error the gate blocks; ambiguity favors denial.
package gate
