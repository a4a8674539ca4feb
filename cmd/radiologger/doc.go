// Command radiologger records hourly radio stream segments and archives them
// to object storage.
//
// The daemon subcommand runs the recorder in the foreground; start, stop, and
// status manage a detached instance over the IPC socket. Catalog commands
// such as stations, jobs, and recordings read the SQLite catalog directly so
// they work whether or not the daemon is running.
package main
