// Package artifact validates submitted test evidence and mints immutable
// Artifact records.
//
// A candidate passes through four independent authenticity rules
// (placeholder description, minimum size, staleness, recognized type) plus
// an optional credential scan. Every failing rule is reported, not just
// the first, so the caller can present a complete remediation list in one
// pass.
package artifact
