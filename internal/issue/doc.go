// SPDX-License-Identifier: MPL-2.0

// Package issue defines the launcher's error taxonomy and its user-facing
// error presentation.
//
// Every failure the orchestrator can surface belongs to one Kind
// (connectivity, lock timeout, network, archive, filesystem, launch, version
// parse, self-update). Leaf packages wrap their errors around the matching
// sentinel so callers classify with errors.Is or KindOf instead of string
// matching. ActionableError carries remediation hints for CLI output, and the
// issue catalog renders longer Markdown guidance for terminal failures.
package issue
