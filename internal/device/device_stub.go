//go:build !linux && !windows

package device

import "camview/internal/stream"

func openPlatform(path string, opts Options) (stream.Source, error) {
    return nil, &Error{Device: path, Op: "open", Err: ErrUnsupported}
}
