package version

import "runtime"

// Build metadata injected via -ldflags at build time:
//
//	go build -ldflags "-X camview/internal/version.BuildNumber=42 -X camview/internal/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Defaults are used when building locally without the script.
var (
    // BuildNumber is a monotonically increasing string set by the build script.
    BuildNumber = "0"
    // GitCommit is the short commit hash if available; may be "unknown".
    GitCommit   = "unknown"
)

// String returns a concise version string for logs/CLI.
func String() string {
    s := "camview build " + BuildNumber
    if GitCommit != "unknown" && GitCommit != "" { s += " (" + GitCommit + ")" }
    return s
}

// Platform names the capture and window backends compiled in.
func Platform() string {
    switch runtime.GOOS {
    case "linux":
        return "v4l2+x11"
    case "windows":
        return "mediafoundation+gdi"
    }
    return "synthetic-only"
}
