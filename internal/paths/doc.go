// Provides platform-appropriate paths for the builder.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The tool name "kiln" is used as the subdirectory
// under each base path. Build caches (base archives, dependency layers) live
// under the cache home; sockets and PID files live under the runtime dir.
package paths
