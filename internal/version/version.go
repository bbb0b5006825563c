package version

import (
	"fmt"
	"runtime/debug"

	"github.com/larsks/gobot/tools"
)

// Version is overridden at build time with
// -ldflags "-X github.com/larsks/qcow2-explore/internal/version.Version=...".
var Version = "dev"

// GetVersion describes the running binary, including the platform and the
// VCS revision when the build recorded one.
func GetVersion(progName string) string {
	vs := fmt.Sprintf("%s version %s", progName, Version)

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return vs
	}

	bim := tools.BuildInfoMap(bi)
	vs = fmt.Sprintf("%s %s/%s", vs, bim["GOOS"], bim["GOARCH"])
	if vcs, ok := bim["vcs"]; ok && vcs == "git" {
		vs = fmt.Sprintf("%s rev %s on %s", vs, shortRevision(bim["vcs.revision"]), bim["vcs.time"])
	}
	return vs
}

func shortRevision(rev string) string {
	if len(rev) > 10 {
		return rev[:10]
	}
	return rev
}
