// Package preflight provides readiness checks for the external tools,
// services and filesystem paths vidpilot depends on.
//
// These checks run in two contexts:
//   - The workflow manager logs RunAll results when it starts. Failures are
//     warnings only: jobs fail at the stage that needs the missing piece and
//     can be retried once it is fixed.
//   - The CLI "vidpilot check" command prints every result and exits non-zero
//     when a required check fails.
//
// Checks for optional integrations (Telegram, ntfy) are skipped when the
// integration is not configured.
package preflight
