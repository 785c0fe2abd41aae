package display

import (
    "fmt"
    "sync"

    "github.com/jezek/xgb"
    "github.com/jezek/xgb/xproto"
    "github.com/pion/logging"

    "camview/internal/stream"
)

type x11Window struct {
    conn   *xgb.Conn
    win    xproto.Window
    gc     xproto.Gcontext
    depth  byte
    order  stream.ChannelOrder
    maxReq int // bytes
    log    logging.LeveledLogger

    deleteAtom xproto.Atom

    mu       sync.Mutex
    onExpose func()

    closed    chan struct{}
    closeOnce sync.Once
}

func openWindow(title string, width, height int, log logging.LeveledLogger) (stream.Window, error) {
    conn, err := xgb.NewConn()
    if err != nil { return nil, fmt.Errorf("connect to X server: %w", err) }
    w, err := newX11Window(conn, title, width, height, log)
    if err != nil {
        conn.Close()
        return nil, err
    }
    go w.events()
    return w, nil
}

func newX11Window(conn *xgb.Conn, title string, width, height int, log logging.LeveledLogger) (*x11Window, error) {
    setup := xproto.Setup(conn)
    screen := setup.DefaultScreen(conn)

    bpp := 0
    for _, pf := range setup.PixmapFormats {
        if pf.Depth == screen.RootDepth { bpp = int(pf.BitsPerPixel) }
    }
    if bpp != 32 {
        return nil, fmt.Errorf("root depth %d uses %d bits per pixel, need 32", screen.RootDepth, bpp)
    }
    var red, green, blue uint32
    for _, d := range screen.AllowedDepths {
        for _, v := range d.Visuals {
            if v.VisualId == screen.RootVisual {
                red, green, blue = v.RedMask, v.GreenMask, v.BlueMask
            }
        }
    }
    lsb := setup.ImageByteOrder == xproto.ImageOrderLSBFirst
    order, ok := orderFromMasks(red, blue, lsb)
    log.Infof("X visual 0x%x depth %d masks r=%08x g=%08x b=%08x, painting %s", screen.RootVisual, screen.RootDepth, red, green, blue, order)
    if !ok { log.Warnf("unexpected visual layout, colours may be swapped") }

    wid, err := xproto.NewWindowId(conn)
    if err != nil { return nil, err }
    err = xproto.CreateWindowChecked(conn, screen.RootDepth, wid, screen.Root,
        0, 0, uint16(width), uint16(height), 0,
        xproto.WindowClassInputOutput, screen.RootVisual,
        xproto.CwBackPixel|xproto.CwEventMask,
        []uint32{screen.BlackPixel, xproto.EventMaskExposure | xproto.EventMaskStructureNotify}).Check()
    if err != nil { return nil, fmt.Errorf("create window: %w", err) }

    xproto.ChangeProperty(conn, xproto.PropModeReplace, wid, xproto.AtomWmName, xproto.AtomString,
        8, uint32(len(title)), []byte(title))

    protocols, err := internAtom(conn, "WM_PROTOCOLS")
    if err != nil { return nil, err }
    deleteWin, err := internAtom(conn, "WM_DELETE_WINDOW")
    if err != nil { return nil, err }
    data := make([]byte, 4)
    xgb.Put32(data, uint32(deleteWin))
    xproto.ChangeProperty(conn, xproto.PropModeReplace, wid, protocols, xproto.AtomAtom, 32, 1, data)

    gc, err := xproto.NewGcontextId(conn)
    if err != nil { return nil, err }
    if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(wid), 0, nil).Check(); err != nil {
        return nil, fmt.Errorf("create gc: %w", err)
    }
    if err := xproto.MapWindowChecked(conn, wid).Check(); err != nil {
        return nil, fmt.Errorf("map window: %w", err)
    }

    w := &x11Window{
        conn:   conn,
        win:    wid,
        gc:     gc,
        depth:  screen.RootDepth,
        order:  order,
        maxReq: int(setup.MaximumRequestLength) * 4,
        log:    log,
        closed: make(chan struct{}),

        deleteAtom: deleteWin,
    }
    return w, nil
}

func internAtom(conn *xgb.Conn, name string) (xproto.Atom, error) {
    r, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
    if err != nil { return 0, fmt.Errorf("intern %s: %w", name, err) }
    return r.Atom, nil
}

func (w *x11Window) Order() stream.ChannelOrder { return w.order }
func (w *x11Window) Closed() <-chan struct{}    { return w.closed }

func (w *x11Window) OnExpose(fn func()) {
    w.mu.Lock()
    w.onExpose = fn
    w.mu.Unlock()
}

// Present sends the region as ZPixmap PutImage requests, split into row
// strips that fit the server's request limit.
func (w *x11Window) Present(frame *stream.RgbFrame, x, y, width, height int) error {
    select {
    case <-w.closed:
        return stream.ErrSinkClosed
    default:
    }
    x, y, width, height, ok := clip(frame, x, y, width, height)
    if !ok { return nil }
    pix := region(frame, x, y, width, height)
    rowBytes := width * 4
    step := rowsPerRequest(w.maxReq, rowBytes)
    for row := 0; row < height; row += step {
        n := step
        if row+n > height { n = height - row }
        xproto.PutImage(w.conn, xproto.ImageFormatZPixmap, xproto.Drawable(w.win), w.gc,
            uint16(width), uint16(n), int16(x), int16(y+row), 0, w.depth,
            pix[row*rowBytes:(row+n)*rowBytes])
    }
    return nil
}

// events pumps the X event queue until the window goes away.
func (w *x11Window) events() {
    for {
        ev, xerr := w.conn.WaitForEvent()
        if ev == nil && xerr == nil {
            w.markClosed()
            return
        }
        if xerr != nil {
            w.log.Warnf("X error: %v", xerr)
            continue
        }
        switch e := ev.(type) {
        case xproto.ExposeEvent:
            if e.Count == 0 { w.expose() }
        case xproto.ClientMessageEvent:
            if e.Format == 32 && xproto.Atom(e.Data.Data32[0]) == w.deleteAtom {
                w.log.Info("window closed by user")
                w.markClosed()
            }
        case xproto.DestroyNotifyEvent:
            w.markClosed()
            return
        }
    }
}

func (w *x11Window) expose() {
    w.mu.Lock()
    fn := w.onExpose
    w.mu.Unlock()
    if fn != nil { fn() }
}

func (w *x11Window) markClosed() { w.closeOnce.Do(func() { close(w.closed) }) }

func (w *x11Window) Close() error {
    w.markClosed()
    xproto.FreeGC(w.conn, w.gc)
    xproto.DestroyWindow(w.conn, w.win)
    w.conn.Close()
    return nil
}
