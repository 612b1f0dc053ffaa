// Command omzet runs per-file task pipelines over media libraries.
//
// `omzet run` processes every configured library once and exits; `omzet
// watch` repeats that on engine.scan_interval until interrupted. The ledger,
// scratch, config, and status subcommands inspect and maintain local state
// without running any task.
package main
