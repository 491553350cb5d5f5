// Package workflow owns the lifecycle of tracked workflows: creation,
// activation, phase advancement, evidence attachment, and backlog status.
//
// Every mutation is a load-mutate-save round trip through the state store
// with one automatic retry on a version conflict. The manager enforces the
// phase order and its evidence preconditions; it never edits files and
// never decides gate outcomes itself (see internal/gate).
package workflow
