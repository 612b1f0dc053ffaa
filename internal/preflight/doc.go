// Package preflight provides readiness checks for the filesystem paths that
// omzet depends on.
//
// These checks run in two contexts:
//   - The watch daemon calls RunAll at startup and logs every failing check
//     so a misconfigured library is visible before the first scan.
//   - The CLI "omzet status" command renders the same results in its
//     Paths section.
//
// Checks never create or modify anything; a scratchpad that does not exist
// yet passes when its nearest existing parent is writable.
package preflight
