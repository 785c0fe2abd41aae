//go:build !linux && !windows

package display

import (
    "github.com/pion/logging"

    "camview/internal/stream"
)

func openWindow(title string, width, height int, log logging.LeveledLogger) (stream.Window, error) {
    return nil, ErrUnsupported
}
