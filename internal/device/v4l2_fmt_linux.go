package device

import (
    "unsafe"

    "golang.org/x/sys/unix"
)

const v4l2BufTypeVideoCapture = 1

// v4l2PixFormat is the head of struct v4l2_pix_format.
type v4l2PixFormat struct {
    Width        uint32
    Height       uint32
    Pixelformat  uint32
    Field        uint32
    Bytesperline uint32
    Sizeimage    uint32
}

// v4l2Format mirrors struct v4l2_format; the union is pointer aligned.
type v4l2Format struct {
    Type uint32
    raw  [200 / unsafe.Sizeof(uintptr(0))]uintptr
}

func (f *v4l2Format) pix() *v4l2PixFormat { return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0])) }

// _IOWR('V', 4, struct v4l2_format)
var vidiocGFmt = uintptr(3)<<30 | unsafe.Sizeof(v4l2Format{})<<16 | uintptr('V')<<8 | 4

// queryBytesPerLine asks the driver for the row pitch it negotiated. The
// webcam binding keeps its fd private, so this opens the node a second time;
// V4L2 allows format queries from any open handle.
func queryBytesPerLine(path string) (int, error) {
    fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
    if err != nil { return 0, err }
    defer unix.Close(fd)
    f := v4l2Format{Type: v4l2BufTypeVideoCapture}
    if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), vidiocGFmt, uintptr(unsafe.Pointer(&f))); errno != 0 {
        return 0, errno
    }
    return int(f.pix().Bytesperline), nil
}
