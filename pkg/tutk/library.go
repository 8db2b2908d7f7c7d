// Package tutk is a thin binding over the vendor's IOTC/AV shared
// library. The library is process-global: Open loads and initializes it
// once and reference-counts subsequent opens; Close deinitializes when
// the last reference is released.
package tutk

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// DefaultLibraryPaths are probed in order when no explicit path is
// configured.
var DefaultLibraryPaths = []string{
	"/usr/local/lib/libIOTCAPIs_ALL.so",
	"/usr/local/lib/libIOTCAPIs_ALL.dylib",
	"/app/lib/libIOTCAPIs_ALL.so",
}

// Options configures the process-global library initialization.
type Options struct {
	// Paths to probe for the shared library; DefaultLibraryPaths if empty.
	Paths []string
	// UDPPort for local peer traffic; 0 picks a random port.
	UDPPort uint16
	// MaxChannels is the maximum number of concurrent AV channels.
	MaxChannels int
	// LicenseKey is the vendor SDK license key.
	LicenseKey string
}

// Library exposes the narrow set of native entry points the bridge uses.
// All methods are safe for concurrent use across sessions; the vendor
// library serializes internally.
type Library struct {
	handle uintptr

	setLicenseKey             func(key string) int32
	iotcInitialize2           func(udpPort uint16) int32
	iotcDeinitialize          func() int32
	avInitialize              func(maxChannels int32) int32
	avDeinitialize            func() int32
	iotcGetSessionID          func() int32
	iotcConnectByUIDParallel  func(uid string, sid int32) int32
	iotcConnectByUIDEx        func(uid string, sid int32, input unsafe.Pointer) int32
	iotcConnectStopBySID      func(sid int32) int32
	iotcSessionClose          func(sid int32)
	iotcSessionCheckEx        func(sid int32, info unsafe.Pointer) int32
	avClientStartEx           func(in, out unsafe.Pointer) int32
	avClientStop              func(ch int32)
	avClientCleanBuf          func(ch int32)
	avClientSetRecvBufMaxSize func(ch int32, sizeKB int32)
	avSendIOCtrl              func(ch int32, ctrlType uint32, data unsafe.Pointer, length int32) int32
	avRecvIOCtrl              func(ch int32, ctrlType unsafe.Pointer, data unsafe.Pointer, maxLen int32, timeoutMS uint32) int32
	avRecvFrameData2          func(ch int32, frameData unsafe.Pointer, frameDataMaxLen int32,
		frameDataActualLen, frameDataExpectedLen unsafe.Pointer,
		frameInfo unsafe.Pointer, frameInfoMaxLen int32,
		frameInfoActualLen, frameIndex unsafe.Pointer) int32

	framePool sync.Pool
}

var (
	globalMu   sync.Mutex
	globalLib  *Library
	globalRefs int
)

// Open loads and initializes the vendor library, or takes another
// reference on the already-initialized instance. Every successful Open
// must be paired with a Close.
func Open(opts Options) (*Library, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLib != nil {
		globalRefs++
		return globalLib, nil
	}

	lib, err := load(opts.Paths)
	if err != nil {
		return nil, err
	}

	if opts.LicenseKey != "" {
		if rc := lib.setLicenseKey(opts.LicenseKey); rc < 0 {
			return nil, fmt.Errorf("set license key: %w", NewError(rc))
		}
	}
	if rc := lib.iotcInitialize2(opts.UDPPort); rc < 0 {
		return nil, fmt.Errorf("iotc initialize: %w", NewError(rc))
	}
	maxChans := int32(opts.MaxChannels)
	if maxChans < 1 {
		maxChans = 1
	}
	if rc := lib.avInitialize(maxChans); rc < 0 {
		lib.iotcDeinitialize()
		return nil, fmt.Errorf("av initialize: %w", NewError(rc))
	}

	globalLib = lib
	globalRefs = 1
	return lib, nil
}

// Close releases one reference; the final release deinitializes the
// native library.
func (l *Library) Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLib != l || globalRefs == 0 {
		return nil
	}
	globalRefs--
	if globalRefs > 0 {
		return nil
	}
	l.avDeinitialize()
	rc := l.iotcDeinitialize()
	globalLib = nil
	return NewError(rc)
}

func load(paths []string) (*Library, error) {
	if len(paths) == 0 {
		paths = DefaultLibraryPaths
	}
	var handle uintptr
	var lastErr error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			lastErr = err
			continue
		}
		h, err := purego.Dlopen(p, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		handle = h
		break
	}
	if handle == 0 {
		return nil, fmt.Errorf("could not load vendor library from %s: %w",
			strings.Join(paths, ", "), lastErr)
	}

	l := &Library{handle: handle}
	l.framePool.New = func() any {
		buf := make([]byte, frameDataMaxLen)
		return &buf
	}
	purego.RegisterLibFunc(&l.setLicenseKey, handle, "TUTK_SDK_Set_License_Key")
	purego.RegisterLibFunc(&l.iotcInitialize2, handle, "IOTC_Initialize2")
	purego.RegisterLibFunc(&l.iotcDeinitialize, handle, "IOTC_DeInitialize")
	purego.RegisterLibFunc(&l.avInitialize, handle, "avInitialize")
	purego.RegisterLibFunc(&l.avDeinitialize, handle, "avDeInitialize")
	purego.RegisterLibFunc(&l.iotcGetSessionID, handle, "IOTC_Get_SessionID")
	purego.RegisterLibFunc(&l.iotcConnectByUIDParallel, handle, "IOTC_Connect_ByUID_Parallel")
	purego.RegisterLibFunc(&l.iotcConnectByUIDEx, handle, "IOTC_Connect_ByUIDEx")
	purego.RegisterLibFunc(&l.iotcConnectStopBySID, handle, "IOTC_Connect_Stop_BySID")
	purego.RegisterLibFunc(&l.iotcSessionClose, handle, "IOTC_Session_Close")
	purego.RegisterLibFunc(&l.iotcSessionCheckEx, handle, "IOTC_Session_Check_Ex")
	purego.RegisterLibFunc(&l.avClientStartEx, handle, "avClientStartEx")
	purego.RegisterLibFunc(&l.avClientStop, handle, "avClientStop")
	purego.RegisterLibFunc(&l.avClientCleanBuf, handle, "avClientCleanBuf")
	purego.RegisterLibFunc(&l.avClientSetRecvBufMaxSize, handle, "avClientSetRecvBufMaxSize")
	purego.RegisterLibFunc(&l.avSendIOCtrl, handle, "avSendIOCtrl")
	purego.RegisterLibFunc(&l.avRecvIOCtrl, handle, "avRecvIOCtrl")
	purego.RegisterLibFunc(&l.avRecvFrameData2, handle, "avRecvFrameData2")
	return l, nil
}

// AuthKey derives the 8-byte DTLS connect key from the device secret and
// MAC: base64 of the first 6 sha256 bytes of enr||upper(mac), with the
// base64 specials substituted (+ -> Z, / -> 9, = -> A).
func AuthKey(enr, mac string) []byte {
	sum := sha256.Sum256([]byte(enr + strings.ToUpper(mac)))
	key := base64.StdEncoding.EncodeToString(sum[:6])
	key = strings.NewReplacer("+", "Z", "/", "9", "=", "A").Replace(key)
	return []byte(key)
}

// st_IOTCConnectInput mirrors the native connect-ex input struct.
type iotcConnectInput struct {
	cb                 uint32
	authenticationType uint32
	authKey            [8]byte
	timeout            uint32
}

// Connect establishes an IOTC session to a device and returns the
// session id. DTLS devices connect through the connect-ex entry point
// with a derived auth key; everything else uses the parallel connect.
func (l *Library) Connect(p2pID string, dtls bool, enr, mac string) (int32, error) {
	sid := l.iotcGetSessionID()
	if sid < 0 {
		return sid, NewError(sid)
	}
	if !dtls {
		rc := l.iotcConnectByUIDParallel(p2pID, sid)
		if rc < 0 {
			return rc, NewError(rc)
		}
		return rc, nil
	}

	in := iotcConnectInput{
		cb:      uint32(unsafe.Sizeof(iotcConnectInput{})),
		timeout: 60,
	}
	copy(in.authKey[:], AuthKey(enr, mac))
	rc := l.iotcConnectByUIDEx(p2pID, sid, unsafe.Pointer(&in))
	runtime.KeepAlive(&in)
	if rc < 0 {
		return rc, NewError(rc)
	}
	return rc, nil
}

// ConnectStop interrupts an in-flight connect bound to the session id.
func (l *Library) ConnectStop(sid int32) error {
	return NewError(l.iotcConnectStopBySID(sid))
}

// SessionClose tears down an IOTC session. Blocked calls on the session
// return negative codes once it is closed.
func (l *Library) SessionClose(sid int32) {
	l.iotcSessionClose(sid)
}

// SessionCheck returns the current session diagnostics.
func (l *Library) SessionCheck(sid int32) (SessionInfo, error) {
	buf := make([]byte, 256)
	// First field of the native struct is its own size.
	binary.LittleEndian.PutUint32(buf[0:4], sessionInfoSize)
	rc := l.iotcSessionCheckEx(sid, unsafe.Pointer(&buf[0]))
	runtime.KeepAlive(buf)
	if rc < 0 {
		return SessionInfo{}, NewError(rc)
	}
	return parseSessionInfo(buf)
}

// avClientStartInConfig mirrors the native avClientStartEx input struct.
type avClientStartInConfig struct {
	cb            uint32
	iotcSessionID uint32
	iotcChannelID uint8
	_             [3]byte
	timeoutSec    uint32
	account       *byte
	password      *byte
	resend        int32
	securityMode  uint32
	authType      uint32
	syncRecvData  int32
}

type avClientStartOutConfig struct {
	cb              uint32
	serverType      uint32
	resend          int32
	twoWayStreaming int32
	syncRecvData    int32
	securityMode    uint32
}

// AVClientStart opens the AV channel on an established session and
// returns the channel id. resend is 0 for the battery camera family and
// 1 otherwise.
func (l *Library) AVClientStart(sid int32, username, password string, timeoutSec uint32, channelID uint8, resend int32) (int32, error) {
	user := append([]byte(username), 0)
	pass := append([]byte(password), 0)

	in := avClientStartInConfig{
		iotcSessionID: uint32(sid),
		iotcChannelID: channelID,
		timeoutSec:    timeoutSec,
		account:       &user[0],
		password:      &pass[0],
		resend:        resend,
		securityMode:  2,
	}
	in.cb = uint32(unsafe.Sizeof(in))
	out := avClientStartOutConfig{}
	out.cb = uint32(unsafe.Sizeof(out))

	ch := l.avClientStartEx(unsafe.Pointer(&in), unsafe.Pointer(&out))
	runtime.KeepAlive(user)
	runtime.KeepAlive(pass)
	if ch < 0 {
		return ch, NewError(ch)
	}
	return ch, nil
}

// AVClientStop stops the AV channel.
func (l *Library) AVClientStop(ch int32) {
	l.avClientStop(ch)
}

// AVCleanBuf flushes buffered frames on both ends of the channel. Called
// right after AVClientStart so the stream begins at the live edge.
func (l *Library) AVCleanBuf(ch int32) {
	l.avClientCleanBuf(ch)
}

// AVSetRecvBufMaxSize sets the client frame buffer size, in kilobytes.
func (l *Library) AVSetRecvBufMaxSize(ch int32, sizeKB int32) {
	l.avClientSetRecvBufMaxSize(ch, sizeKB)
}

// AVSendIOCtl sends a control message on the channel.
func (l *Library) AVSendIOCtl(ch int32, ctrlType uint32, data []byte) error {
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	rc := l.avSendIOCtrl(ch, ctrlType, ptr, int32(len(data)))
	runtime.KeepAlive(data)
	return NewError(rc)
}

const ioCtlMaxLen = 1024 * 1024

// AVRecvIOCtl receives one control message, waiting up to timeoutMS.
// A negative return carries the native code; AV_ER_TIMEOUT means no
// message arrived in time.
func (l *Library) AVRecvIOCtl(ch int32, timeoutMS uint32) (int32, uint32, []byte) {
	var ctrlType uint32
	buf := make([]byte, ioCtlMaxLen)
	n := l.avRecvIOCtrl(ch, unsafe.Pointer(&ctrlType), unsafe.Pointer(&buf[0]), int32(len(buf)), timeoutMS)
	runtime.KeepAlive(buf)
	if n <= 0 {
		return n, ctrlType, nil
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return n, ctrlType, out
}

const frameDataMaxLen = 800_000

// AVRecvFrame receives one compressed video frame and its metadata.
// Negative codes of interest: AV_ER_DATA_NOREADY, AV_ER_INCOMPLETE_FRAME,
// AV_ER_LOSED_THIS_FRAME, AV_ER_SESSION_CLOSE_BY_REMOTE.
func (l *Library) AVRecvFrame(ch int32) (int32, []byte, FrameInfo, error) {
	bufp := l.framePool.Get().(*[]byte)
	defer l.framePool.Put(bufp)
	buf := *bufp

	var (
		actualLen, expectedLen int32
		infoActualLen          int32
		frameIndex             uint32
	)
	info := make([]byte, frameInfo3Size)

	rc := l.avRecvFrameData2(ch,
		unsafe.Pointer(&buf[0]), int32(len(buf)),
		unsafe.Pointer(&actualLen), unsafe.Pointer(&expectedLen),
		unsafe.Pointer(&info[0]), int32(len(info)),
		unsafe.Pointer(&infoActualLen), unsafe.Pointer(&frameIndex))
	runtime.KeepAlive(buf)
	runtime.KeepAlive(info)
	if rc < 0 {
		return rc, nil, FrameInfo{}, nil
	}

	fi, err := parseFrameInfo(info, int(infoActualLen))
	if err != nil {
		return rc, nil, FrameInfo{}, err
	}
	frame := make([]byte, actualLen)
	copy(frame, buf[:actualLen])
	return rc, frame, fi, nil
}
