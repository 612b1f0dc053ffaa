// Package logs reads the JSON log file written by omzet.
//
// Tail returns the last lines of the file (or everything after a saved
// offset) with bounded memory, and Follow polls for new lines until its
// context ends. Filter narrows lines by the job, library, and task fields
// the engine attaches to every record.
package logs
