// Parses flags and dispatches kiln subcommands.
//
// The CLI accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-s, --socket    Unix socket path.
//
// Flags override build-time defaults set via linker flags. After parsing,
// the global logger is reconfigured to reflect the final level before the
// subcommand runs.
//
// Build, status and stop commands talk to the kilnd daemon over a Unix
// domain socket; start runs the daemon in the foreground; run launches a
// built archive against containerd directly.
package cli
