// Package procprobe lists running capture processes from the operating system
// and recovers the source URL and output path each one was invoked with.
//
// The recorder tracks its own children in memory; the probe only serves crash
// recovery at startup, when captures launched by a previous daemon are adopted
// instead of duplicated.
package procprobe
