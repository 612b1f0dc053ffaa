// Package daemon runs the engine on a fixed interval until stopped.
//
// A flock file under the state directory keeps a single watch process per
// state directory. Each tick runs every library once; ticks never overlap,
// and a run that outlasts the interval delays the next one instead of
// queueing it. One-off `omzet run` invocations may still run alongside the
// daemon because per-file locking lives in the engine.
package daemon
