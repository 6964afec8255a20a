package cmd

import (
	"runtime/debug"
)

// Version can be set via:
// -ldflags="-X 'github.com/redfoxsec/audit-core/cmd.Version=$TAG'"
var Version string

func init() {
	if Version == "" {
		i, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Version = i.Main.Version
	}
}
