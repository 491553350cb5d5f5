// Package secrets scans submitted evidence content for leaked credentials.
//
// Detection is backed by the Gitleaks ruleset. Projects and users can
// exclude known-safe patterns through TOML allowlists (.gitleaks.toml in
// the project root plus an optional user file); the two are merged with
// union logic before scanning.
package secrets
