// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// omzet uses it for the built-in codec probe: tasks that declare
// skip_codecs are skipped when the staged input's primary video stream
// already uses one of those codecs.
package ffprobe
