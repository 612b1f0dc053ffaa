// Package scratch owns job-scoped staging workspaces and the atomic
// promotion of a finished artifact onto its library destination.
//
// A Workspace is a directory named omzet-<job id> under the workflow's
// scratchpad. Each task writes to a fresh numbered path inside it, so no
// script ever overwrites its own input. Promote moves the final artifact
// next to the destination under a hidden temporary name, fsyncs it, and
// renames it into place; readers of the destination see either the old file
// or the complete new one.
package scratch
