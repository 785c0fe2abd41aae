//go:build windows

package display

import (
    "errors"
    "fmt"
    "runtime"
    "sync"
    "unsafe"

    "github.com/pion/logging"
    "golang.org/x/sys/windows"

    "camview/internal/stream"
)

var (
    user32   = windows.NewLazySystemDLL("user32.dll")
    gdi32    = windows.NewLazySystemDLL("gdi32.dll")
    kernel32 = windows.NewLazySystemDLL("kernel32.dll")

    procRegisterClassExW  = user32.NewProc("RegisterClassExW")
    procCreateWindowExW   = user32.NewProc("CreateWindowExW")
    procDefWindowProcW    = user32.NewProc("DefWindowProcW")
    procDestroyWindow     = user32.NewProc("DestroyWindow")
    procShowWindow        = user32.NewProc("ShowWindow")
    procUpdateWindow      = user32.NewProc("UpdateWindow")
    procGetMessageW       = user32.NewProc("GetMessageW")
    procTranslateMessage  = user32.NewProc("TranslateMessage")
    procDispatchMessageW  = user32.NewProc("DispatchMessageW")
    procPostMessageW      = user32.NewProc("PostMessageW")
    procPostQuitMessage   = user32.NewProc("PostQuitMessage")
    procBeginPaint        = user32.NewProc("BeginPaint")
    procEndPaint          = user32.NewProc("EndPaint")
    procGetDC             = user32.NewProc("GetDC")
    procReleaseDC         = user32.NewProc("ReleaseDC")
    procLoadCursorW       = user32.NewProc("LoadCursorW")
    procAdjustWindowRect  = user32.NewProc("AdjustWindowRect")
    procSetDIBitsToDevice = gdi32.NewProc("SetDIBitsToDevice")
    procGetModuleHandleW  = kernel32.NewProc("GetModuleHandleW")
)

const (
    wmDestroy = 0x0002
    wmPaint   = 0x000F
    wmClose   = 0x0010

    wsOverlappedWindow = 0x00CF0000
    cwUseDefault       = 0x80000000
    swShow             = 5
    idcArrow           = 32512
    colorWindow        = 5
    biRGB              = 0
    dibRGBColors       = 0
)

type wndClassEx struct {
    Size       uint32
    Style      uint32
    WndProc    uintptr
    ClsExtra   int32
    WndExtra   int32
    Instance   uintptr
    Icon       uintptr
    Cursor     uintptr
    Background uintptr
    MenuName   *uint16
    ClassName  *uint16
    IconSm     uintptr
}

type point struct{ X, Y int32 }

type msg struct {
    Hwnd    uintptr
    Message uint32
    WParam  uintptr
    LParam  uintptr
    Time    uint32
    Pt      point
    Private uint32
}

type rect struct{ Left, Top, Right, Bottom int32 }

type paintStruct struct {
    Hdc       uintptr
    Erase     int32
    RcPaint   rect
    Restore   int32
    IncUpdate int32
    Reserved  [32]byte
}

type bitmapInfoHeader struct {
    Size          uint32
    Width         int32
    Height        int32
    Planes        uint16
    BitCount      uint16
    Compression   uint32
    SizeImage     uint32
    XPelsPerMeter int32
    YPelsPerMeter int32
    ClrUsed       uint32
    ClrImportant  uint32
}

type bitmapInfo struct {
    Header bitmapInfoHeader
    Colors [1]uint32
}

var (
    className     = windows.StringToUTF16Ptr("camviewWindow")
    registerOnce  sync.Once
    registerErr   error
    wndProcThunk  uintptr
    windowsMu     sync.Mutex
    windowsByHwnd = map[uintptr]*gdiWindow{}
)

// gdiWindow owns a Win32 window. A locked OS thread creates it and runs its
// message pump; Present paints from the caller's goroutine through GetDC.
type gdiWindow struct {
    hwnd uintptr
    log  logging.LeveledLogger

    mu       sync.Mutex
    onExpose func()

    closed    chan struct{}
    closeOnce sync.Once
    done      chan struct{}
}

func registerClass() error {
    registerOnce.Do(func() {
        wndProcThunk = windows.NewCallback(wndProc)
        inst, _, _ := procGetModuleHandleW.Call(0)
        cursor, _, _ := procLoadCursorW.Call(0, idcArrow)
        wc := wndClassEx{
            WndProc:    wndProcThunk,
            Instance:   inst,
            Cursor:     cursor,
            Background: colorWindow + 1,
            ClassName:  className,
        }
        wc.Size = uint32(unsafe.Sizeof(wc))
        if atom, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); atom == 0 {
            registerErr = fmt.Errorf("RegisterClassExW: %w", err)
        }
    })
    return registerErr
}

func openWindow(title string, width, height int, log logging.LeveledLogger) (stream.Window, error) {
    if err := registerClass(); err != nil { return nil, err }
    w := &gdiWindow{log: log, closed: make(chan struct{}), done: make(chan struct{})}
    ready := make(chan error, 1)
    go w.pump(title, width, height, ready)
    if err := <-ready; err != nil { return nil, err }
    return w, nil
}

// pump creates the window and dispatches its messages until WM_QUIT.
func (w *gdiWindow) pump(title string, width, height int, ready chan<- error) {
    runtime.LockOSThread()
    defer runtime.UnlockOSThread()
    defer close(w.done)

    r := rect{Right: int32(width), Bottom: int32(height)}
    procAdjustWindowRect.Call(uintptr(unsafe.Pointer(&r)), wsOverlappedWindow, 0)
    inst, _, _ := procGetModuleHandleW.Call(0)
    hwnd, _, err := procCreateWindowExW.Call(0,
        uintptr(unsafe.Pointer(className)),
        uintptr(unsafe.Pointer(windows.StringToUTF16Ptr(title))),
        wsOverlappedWindow,
        cwUseDefault, cwUseDefault,
        uintptr(r.Right-r.Left), uintptr(r.Bottom-r.Top),
        0, 0, inst, 0)
    if hwnd == 0 {
        ready <- fmt.Errorf("CreateWindowExW: %w", err)
        return
    }
    w.hwnd = hwnd
    windowsMu.Lock()
    windowsByHwnd[hwnd] = w
    windowsMu.Unlock()
    procShowWindow.Call(hwnd, swShow)
    procUpdateWindow.Call(hwnd)
    w.log.Infof("window %q %dx%d created", title, width, height)
    ready <- nil

    var m msg
    for {
        ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
        if int32(ret) <= 0 { break }
        procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
        procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
    }
    w.markClosed()
}

func wndProc(hwnd, message, wparam, lparam uintptr) uintptr {
    windowsMu.Lock()
    w := windowsByHwnd[hwnd]
    windowsMu.Unlock()
    switch message {
    case wmPaint:
        var ps paintStruct
        procBeginPaint.Call(hwnd, uintptr(unsafe.Pointer(&ps)))
        procEndPaint.Call(hwnd, uintptr(unsafe.Pointer(&ps)))
        if w != nil { w.expose() }
        return 0
    case wmClose:
        procDestroyWindow.Call(hwnd)
        return 0
    case wmDestroy:
        windowsMu.Lock()
        delete(windowsByHwnd, hwnd)
        windowsMu.Unlock()
        if w != nil {
            w.log.Info("window closed")
            w.markClosed()
        }
        procPostQuitMessage.Call(0)
        return 0
    }
    ret, _, _ := procDefWindowProcW.Call(hwnd, message, wparam, lparam)
    return ret
}

func (w *gdiWindow) Order() stream.ChannelOrder { return stream.OrderBGRA }
func (w *gdiWindow) Closed() <-chan struct{}    { return w.closed }

func (w *gdiWindow) OnExpose(fn func()) {
    w.mu.Lock()
    w.onExpose = fn
    w.mu.Unlock()
}

func (w *gdiWindow) expose() {
    w.mu.Lock()
    fn := w.onExpose
    w.mu.Unlock()
    if fn != nil {
        fn() // only triggers the presenter, never paints here
    }
}

// Present blits the region with SetDIBitsToDevice as a top-down 32-bpp DIB.
func (w *gdiWindow) Present(frame *stream.RgbFrame, x, y, width, height int) error {
    select {
    case <-w.closed:
        return stream.ErrSinkClosed
    default:
    }
    x, y, width, height, ok := clip(frame, x, y, width, height)
    if !ok { return nil }
    pix := region(frame, x, y, width, height)
    bmi := bitmapInfo{Header: bitmapInfoHeader{
        Width:       int32(width),
        Height:      -int32(height),
        Planes:      1,
        BitCount:    32,
        Compression: biRGB,
    }}
    bmi.Header.Size = uint32(unsafe.Sizeof(bmi.Header))

    hdc, _, _ := procGetDC.Call(w.hwnd)
    if hdc == 0 { return errors.New("GetDC failed") }
    defer procReleaseDC.Call(w.hwnd, hdc)
    lines, _, err := procSetDIBitsToDevice.Call(hdc,
        uintptr(x), uintptr(y), uintptr(width), uintptr(height),
        0, 0, 0, uintptr(height),
        uintptr(unsafe.Pointer(&pix[0])),
        uintptr(unsafe.Pointer(&bmi)),
        dibRGBColors)
    if lines == 0 { return fmt.Errorf("SetDIBitsToDevice: %w", err) }
    return nil
}

func (w *gdiWindow) markClosed() { w.closeOnce.Do(func() { close(w.closed) }) }

// Close destroys the window from its own thread and waits for the pump to exit.
func (w *gdiWindow) Close() error {
    select {
    case <-w.done:
        return nil
    default:
    }
    procPostMessageW.Call(w.hwnd, wmClose, 0, 0)
    <-w.done
    return nil
}
