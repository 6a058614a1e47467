// Package logging provides opt-in file-based logging with rotation.
// When the --debug flag is set, comprehensive logs are written to ~/.sift/logs/
// for debugging and troubleshooting.
//
// By default (without --debug), logging is minimal and goes to stderr only.
// The mcp command is the exception: it always logs at debug level to the
// log file and never to stdout or stderr, with or without --debug.
package logging
