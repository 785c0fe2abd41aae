//go:build windows

package device

import (
    "fmt"
    "syscall"
    "unsafe"

    "golang.org/x/sys/windows"
)

// Media Foundation GUIDs
var (
    mfDevsourceAttributeSourceType       = windows.GUID{0xc60ac5fe, 0x252a, 0x478f, [8]byte{0xa0, 0xef, 0xbc, 0x8f, 0xa5, 0xf7, 0xca, 0xd3}}
    mfDevsourceAttributeSourceTypeVidcap = windows.GUID{0x8ac3587a, 0x4ae7, 0x42d8, [8]byte{0x99, 0xe0, 0x0a, 0x60, 0x13, 0xee, 0xf9, 0x0f}}
    mfDevsourceAttributeFriendlyName     = windows.GUID{0x60d0e559, 0x52f8, 0x4fa2, [8]byte{0xbb, 0xce, 0xac, 0xdb, 0x34, 0xa8, 0xec, 0x01}}
    mfReadwriteEnableHardwareTransforms  = windows.GUID{0xa634a91c, 0x822b, 0x41b9, [8]byte{0xa4, 0x94, 0x4d, 0xe4, 0x64, 0x36, 0x12, 0xb0}}
    mfMTMajorType                        = windows.GUID{0x48eba18e, 0xf8c9, 0x4687, [8]byte{0xbf, 0x11, 0x0a, 0x74, 0xc9, 0xf9, 0x6a, 0x8f}}
    mfMTSubtype                          = windows.GUID{0xf7e34c9a, 0x42e8, 0x4714, [8]byte{0xb7, 0x4b, 0xcb, 0x29, 0xd7, 0x2c, 0x35, 0xe5}}
    mfMTFrameSize                        = windows.GUID{0x1652c33d, 0xd6b2, 0x4012, [8]byte{0xb8, 0x34, 0x72, 0x03, 0x08, 0x49, 0xa3, 0x7d}}
    mfMTDefaultStride                    = windows.GUID{0x644b4e48, 0x1e02, 0x4516, [8]byte{0xb0, 0xeb, 0xc0, 0x1c, 0xa9, 0xd4, 0x9a, 0xc6}}
    mfMediaTypeVideo                     = windows.GUID{0x73646976, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
    mfVideoFormatYUY2                    = windows.GUID{0x32595559, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
    mfVideoFormatRGB32                   = windows.GUID{0x00000016, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
    mfVideoFormatNV12                    = windows.GUID{0x3231564e, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}
    mfVideoFormatMJPG                    = windows.GUID{0x47504a4d, 0x0000, 0x0010, [8]byte{0x80, 0x00, 0x00, 0xaa, 0x00, 0x38, 0x9b, 0x71}}

    iidIMFMediaSource = windows.GUID{0x279a808d, 0xaec7, 0x40c8, [8]byte{0x9c, 0x6b, 0xa6, 0xb4, 0x92, 0xc7, 0x8a, 0x66}}
)

const (
    mfSourceReaderFirstVideoStream = 0xFFFFFFFC

    mfSourceReaderFlagError       = 0x1
    mfSourceReaderFlagEndOfStream = 0x2

    mfVersion           = 0x00020070
    coinitMultithreaded = 0x0
)

var (
    modmfplat      = windows.NewLazySystemDLL("mfplat.dll")
    modmfreadwrite = windows.NewLazySystemDLL("mfreadwrite.dll")
    modmf          = windows.NewLazySystemDLL("mf.dll")
    modole32       = windows.NewLazySystemDLL("ole32.dll")

    procMFStartup                           = modmfplat.NewProc("MFStartup")
    procMFShutdown                          = modmfplat.NewProc("MFShutdown")
    procMFCreateAttributes                  = modmfplat.NewProc("MFCreateAttributes")
    procMFCreateMediaType                   = modmfplat.NewProc("MFCreateMediaType")
    procMFEnumDeviceSources                 = modmf.NewProc("MFEnumDeviceSources")
    procMFCreateSourceReaderFromMediaSource = modmfreadwrite.NewProc("MFCreateSourceReaderFromMediaSource")
    procCoInitializeEx                      = modole32.NewProc("CoInitializeEx")
    procCoUninitialize                      = modole32.NewProc("CoUninitialize")
)

func hresult(op string, hr uintptr) error {
    if hr == 0 { return nil }
    return fmt.Errorf("%s failed: 0x%08x", op, uint32(hr))
}

type imfAttributesVtbl struct {
    QueryInterface     uintptr
    AddRef             uintptr
    Release            uintptr
    GetItem            uintptr
    GetItemType        uintptr
    CompareItem        uintptr
    Compare            uintptr
    GetUINT32          uintptr
    GetUINT64          uintptr
    GetDouble          uintptr
    GetGUID            uintptr
    GetStringLength    uintptr
    GetString          uintptr
    GetAllocatedString uintptr
    GetBlobSize        uintptr
    GetBlob            uintptr
    GetAllocatedBlob   uintptr
    GetUnknown         uintptr
    SetItem            uintptr
    DeleteItem         uintptr
    DeleteAllItems     uintptr
    SetUINT32          uintptr
    SetUINT64          uintptr
    SetDouble          uintptr
    SetGUID            uintptr
    SetString          uintptr
    SetBlob            uintptr
    SetUnknown         uintptr
    LockStore          uintptr
    UnlockStore        uintptr
    GetCount           uintptr
    GetItemByIndex     uintptr
    CopyAllItems       uintptr
}

type imfAttributes struct {
    vtbl *imfAttributesVtbl
}

func (a *imfAttributes) Release() {
    if a != nil && a.vtbl != nil { syscall.SyscallN(a.vtbl.Release, uintptr(unsafe.Pointer(a))) }
}

func (a *imfAttributes) SetGUID(key, value *windows.GUID) error {
    hr, _, _ := syscall.SyscallN(a.vtbl.SetGUID, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(value)))
    return hresult("SetGUID", hr)
}

func (a *imfAttributes) SetUINT32(key *windows.GUID, v uint32) error {
    hr, _, _ := syscall.SyscallN(a.vtbl.SetUINT32, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(v))
    return hresult("SetUINT32", hr)
}

func (a *imfAttributes) SetUINT64(key *windows.GUID, v uint64) error {
    hr, _, _ := syscall.SyscallN(a.vtbl.SetUINT64, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(v))
    return hresult("SetUINT64", hr)
}

func (a *imfAttributes) GetGUID(key *windows.GUID) (windows.GUID, error) {
    var g windows.GUID
    hr, _, _ := syscall.SyscallN(a.vtbl.GetGUID, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&g)))
    return g, hresult("GetGUID", hr)
}

func (a *imfAttributes) GetUINT32(key *windows.GUID) (uint32, error) {
    var v uint32
    hr, _, _ := syscall.SyscallN(a.vtbl.GetUINT32, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&v)))
    return v, hresult("GetUINT32", hr)
}

func (a *imfAttributes) GetUINT64(key *windows.GUID) (uint64, error) {
    var v uint64
    hr, _, _ := syscall.SyscallN(a.vtbl.GetUINT64, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&v)))
    return v, hresult("GetUINT64", hr)
}

func (a *imfAttributes) GetString(key *windows.GUID) (string, error) {
    var n uint32
    hr, _, _ := syscall.SyscallN(a.vtbl.GetStringLength, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&n)))
    if err := hresult("GetStringLength", hr); err != nil { return "", err }
    buf := make([]uint16, n+1)
    hr, _, _ = syscall.SyscallN(a.vtbl.GetString, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(key)), uintptr(unsafe.Pointer(&buf[0])), uintptr(n+1), 0)
    if err := hresult("GetString", hr); err != nil { return "", err }
    return windows.UTF16ToString(buf), nil
}

type imfActivateVtbl struct {
    imfAttributesVtbl
    ActivateObject uintptr
    ShutdownObject uintptr
    DetachObject   uintptr
}

type imfActivate struct {
    vtbl *imfActivateVtbl
}

func (a *imfActivate) attrs() *imfAttributes { return (*imfAttributes)(unsafe.Pointer(a)) }

func (a *imfActivate) Release() {
    if a != nil && a.vtbl != nil { syscall.SyscallN(a.vtbl.Release, uintptr(unsafe.Pointer(a))) }
}

func (a *imfActivate) ActivateObject(iid *windows.GUID) (uintptr, error) {
    var obj uintptr
    hr, _, _ := syscall.SyscallN(a.vtbl.ActivateObject, uintptr(unsafe.Pointer(a)),
        uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&obj)))
    return obj, hresult("ActivateObject", hr)
}

type imfMediaSourceVtbl struct {
    QueryInterface               uintptr
    AddRef                       uintptr
    Release                      uintptr
    GetEvent                     uintptr
    BeginGetEvent                uintptr
    EndGetEvent                  uintptr
    QueueEvent                   uintptr
    GetCharacteristics           uintptr
    CreatePresentationDescriptor uintptr
    Start                        uintptr
    Stop                         uintptr
    Pause                        uintptr
    Shutdown                     uintptr
}

type imfMediaSource struct {
    vtbl *imfMediaSourceVtbl
}

func (s *imfMediaSource) Release() {
    if s != nil && s.vtbl != nil { syscall.SyscallN(s.vtbl.Release, uintptr(unsafe.Pointer(s))) }
}

func (s *imfMediaSource) Shutdown() {
    if s != nil && s.vtbl != nil { syscall.SyscallN(s.vtbl.Shutdown, uintptr(unsafe.Pointer(s))) }
}

type imfSourceReaderVtbl struct {
    QueryInterface      uintptr
    AddRef              uintptr
    Release             uintptr
    GetStreamSelection  uintptr
    SetStreamSelection  uintptr
    GetNativeMediaType  uintptr
    GetCurrentMediaType uintptr
    SetCurrentMediaType uintptr
    SetCurrentPosition  uintptr
    ReadSample          uintptr
    Flush               uintptr
    GetServiceForStream uintptr
}

type imfSourceReader struct {
    vtbl *imfSourceReaderVtbl
}

func (r *imfSourceReader) Release() {
    if r != nil && r.vtbl != nil { syscall.SyscallN(r.vtbl.Release, uintptr(unsafe.Pointer(r))) }
}

func (r *imfSourceReader) GetNativeMediaType(stream, index uint32) (*imfMediaType, error) {
    var mt *imfMediaType
    hr, _, _ := syscall.SyscallN(r.vtbl.GetNativeMediaType, uintptr(unsafe.Pointer(r)),
        uintptr(stream), uintptr(index), uintptr(unsafe.Pointer(&mt)))
    return mt, hresult("GetNativeMediaType", hr)
}

func (r *imfSourceReader) GetCurrentMediaType(stream uint32) (*imfMediaType, error) {
    var mt *imfMediaType
    hr, _, _ := syscall.SyscallN(r.vtbl.GetCurrentMediaType, uintptr(unsafe.Pointer(r)),
        uintptr(stream), uintptr(unsafe.Pointer(&mt)))
    return mt, hresult("GetCurrentMediaType", hr)
}

func (r *imfSourceReader) SetCurrentMediaType(stream uint32, mt *imfMediaType) error {
    hr, _, _ := syscall.SyscallN(r.vtbl.SetCurrentMediaType, uintptr(unsafe.Pointer(r)),
        uintptr(stream), 0, uintptr(unsafe.Pointer(mt)))
    return hresult("SetCurrentMediaType", hr)
}

func (r *imfSourceReader) Flush(stream uint32) error {
    hr, _, _ := syscall.SyscallN(r.vtbl.Flush, uintptr(unsafe.Pointer(r)), uintptr(stream))
    return hresult("Flush", hr)
}

// ReadSample blocks until the next sample; sample may be nil on a stream tick.
func (r *imfSourceReader) ReadSample(stream uint32) (flags uint32, sample *imfSample, err error) {
    var actual uint32
    var ts int64
    hr, _, _ := syscall.SyscallN(r.vtbl.ReadSample, uintptr(unsafe.Pointer(r)),
        uintptr(stream), 0,
        uintptr(unsafe.Pointer(&actual)),
        uintptr(unsafe.Pointer(&flags)),
        uintptr(unsafe.Pointer(&ts)),
        uintptr(unsafe.Pointer(&sample)))
    return flags, sample, hresult("ReadSample", hr)
}

type imfMediaTypeVtbl struct {
    imfAttributesVtbl
    GetMajorType       uintptr
    IsCompressedFormat uintptr
    IsEqual            uintptr
    GetRepresentation  uintptr
    FreeRepresentation uintptr
}

type imfMediaType struct {
    vtbl *imfMediaTypeVtbl
}

func (t *imfMediaType) attrs() *imfAttributes { return (*imfAttributes)(unsafe.Pointer(t)) }

func (t *imfMediaType) Release() {
    if t != nil && t.vtbl != nil { syscall.SyscallN(t.vtbl.Release, uintptr(unsafe.Pointer(t))) }
}

type imfSampleVtbl struct {
    imfAttributesVtbl
    GetSampleFlags            uintptr
    SetSampleFlags            uintptr
    GetSampleTime             uintptr
    SetSampleTime             uintptr
    GetSampleDuration         uintptr
    SetSampleDuration         uintptr
    GetBufferCount            uintptr
    GetBufferByIndex          uintptr
    ConvertToContiguousBuffer uintptr
    AddBuffer                 uintptr
    RemoveBufferByIndex       uintptr
    RemoveAllBuffers          uintptr
    GetTotalLength            uintptr
    CopyToBuffer              uintptr
}

type imfSample struct {
    vtbl *imfSampleVtbl
}

func (s *imfSample) Release() {
    if s != nil && s.vtbl != nil { syscall.SyscallN(s.vtbl.Release, uintptr(unsafe.Pointer(s))) }
}

func (s *imfSample) ConvertToContiguousBuffer() (*imfMediaBuffer, error) {
    var b *imfMediaBuffer
    hr, _, _ := syscall.SyscallN(s.vtbl.ConvertToContiguousBuffer, uintptr(unsafe.Pointer(s)),
        uintptr(unsafe.Pointer(&b)))
    return b, hresult("ConvertToContiguousBuffer", hr)
}

type imfMediaBufferVtbl struct {
    QueryInterface   uintptr
    AddRef           uintptr
    Release          uintptr
    Lock             uintptr
    Unlock           uintptr
    GetCurrentLength uintptr
    SetCurrentLength uintptr
    GetMaxLength     uintptr
}

type imfMediaBuffer struct {
    vtbl *imfMediaBufferVtbl
}

func (b *imfMediaBuffer) Release() {
    if b != nil && b.vtbl != nil { syscall.SyscallN(b.vtbl.Release, uintptr(unsafe.Pointer(b))) }
}

// Lock maps the buffer. The returned slice aliases sample memory and is valid
// until Unlock.
func (b *imfMediaBuffer) Lock() ([]byte, error) {
    var ptr uintptr
    var maxLen, curLen uint32
    hr, _, _ := syscall.SyscallN(b.vtbl.Lock, uintptr(unsafe.Pointer(b)),
        uintptr(unsafe.Pointer(&ptr)),
        uintptr(unsafe.Pointer(&maxLen)),
        uintptr(unsafe.Pointer(&curLen)))
    if err := hresult("Lock", hr); err != nil { return nil, err }
    return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), curLen), nil
}

func (b *imfMediaBuffer) Unlock() {
    syscall.SyscallN(b.vtbl.Unlock, uintptr(unsafe.Pointer(b)))
}

func mfStartup() error {
    hr, _, _ := syscall.SyscallN(procCoInitializeEx.Addr(), 0, coinitMultithreaded)
    if hr != 0 && hr != 1 { // S_OK or S_FALSE
        return fmt.Errorf("CoInitializeEx failed: 0x%08x", uint32(hr))
    }
    hr, _, _ = syscall.SyscallN(procMFStartup.Addr(), mfVersion, 0)
    return hresult("MFStartup", hr)
}

func mfShutdown() {
    syscall.SyscallN(procMFShutdown.Addr())
    syscall.SyscallN(procCoUninitialize.Addr())
}

func mfCreateAttributes(count uint32) (*imfAttributes, error) {
    var a *imfAttributes
    hr, _, _ := syscall.SyscallN(procMFCreateAttributes.Addr(), uintptr(unsafe.Pointer(&a)), uintptr(count))
    return a, hresult("MFCreateAttributes", hr)
}

func mfCreateMediaType() (*imfMediaType, error) {
    var mt *imfMediaType
    hr, _, _ := syscall.SyscallN(procMFCreateMediaType.Addr(), uintptr(unsafe.Pointer(&mt)))
    return mt, hresult("MFCreateMediaType", hr)
}

// mfEnumVideoDevices returns the activation objects of all video capture
// devices. The caller releases each one.
func mfEnumVideoDevices() ([]*imfActivate, error) {
    attrs, err := mfCreateAttributes(1)
    if err != nil { return nil, err }
    defer attrs.Release()
    if err := attrs.SetGUID(&mfDevsourceAttributeSourceType, &mfDevsourceAttributeSourceTypeVidcap); err != nil {
        return nil, err
    }
    var arr **imfActivate
    var count uint32
    hr, _, _ := syscall.SyscallN(procMFEnumDeviceSources.Addr(), uintptr(unsafe.Pointer(attrs)),
        uintptr(unsafe.Pointer(&arr)), uintptr(unsafe.Pointer(&count)))
    if err := hresult("MFEnumDeviceSources", hr); err != nil { return nil, err }
    if count == 0 { return nil, nil }
    out := make([]*imfActivate, count)
    copy(out, unsafe.Slice(arr, count))
    windows.CoTaskMemFree(unsafe.Pointer(arr))
    return out, nil
}

func mfCreateSourceReader(src *imfMediaSource, attrs *imfAttributes) (*imfSourceReader, error) {
    var r *imfSourceReader
    hr, _, _ := syscall.SyscallN(procMFCreateSourceReaderFromMediaSource.Addr(),
        uintptr(unsafe.Pointer(src)), uintptr(unsafe.Pointer(attrs)), uintptr(unsafe.Pointer(&r)))
    return r, hresult("MFCreateSourceReaderFromMediaSource", hr)
}

func subtypeName(g windows.GUID) string {
    switch g {
    case mfVideoFormatYUY2:
        return "YUY2"
    case mfVideoFormatRGB32:
        return "RGB32"
    case mfVideoFormatNV12:
        return "NV12"
    case mfVideoFormatMJPG:
        return "MJPG"
    }
    return g.String()
}
