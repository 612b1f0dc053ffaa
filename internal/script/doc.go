// Package script runs probe and command scripts as opaque shell programs.
//
// Each call spawns exactly one `sh -c` child in its own process group with a
// minimal environment plus the caller's bindings. Timeouts and cancellation
// terminate the whole group (SIGTERM, then SIGKILL after a grace period) so
// helper processes started by a script never outlive it. A nonzero exit is
// reported in the Outcome, not as an error; callers decide what it means.
package script
