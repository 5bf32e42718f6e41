package version

import "runtime/debug"

// Name is the service name reported by GET / and the MCP handshake.
const Name = "Excel Signal Analysis API"

var version = "2.0"

// Version returns the module version embedded in the build info when the
// binary was built from a tagged module, and the fallback otherwise.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Sum != "" {
		return info.Main.Version
	}
	return version
}

// Set overrides the fallback version (e.g. from -ldflags wiring in main).
func Set(v string) {
	if v != "" {
		version = v
	}
}
