// pkg/core/payload.go
package core

// Payload type discriminators as they appear in profile files.
const (
	TypeNetwork              = "Network"
	TypeIPC                  = "IPC"
	TypeFileIO               = "FileIO"
	TypeCompositorScreenshot = "CompositorScreenshot"
)

// Payload is the closed set of raw marker payloads. GenericPayload is the
// fallback for every kind this package does not inspect.
type Payload interface {
	PayloadType() string
	sealedPayload()
}

// NetworkID correlates the START and STOP rows of one network request.
// The high 32 bits hold the process id, the low 32 bits the request id.
type NetworkID uint64

// MakeNetworkID builds a composite id.
func MakeNetworkID(pid, request uint32) NetworkID {
	return NetworkID(uint64(pid)<<32 | uint64(request))
}

// ProcessID returns the process segment of the id.
func (id NetworkID) ProcessID() uint32 { return uint32(id >> 32) }

// RequestID returns the request segment of the id.
func (id NetworkID) RequestID() uint32 { return uint32(id) }

// NetworkStatus is the lifecycle status of a network row.
type NetworkStatus string

const (
	NetworkStart    NetworkStatus = "STATUS_START"
	NetworkStop     NetworkStatus = "STATUS_STOP"
	NetworkRedirect NetworkStatus = "STATUS_REDIRECT"
	NetworkCancel   NetworkStatus = "STATUS_CANCEL"
)

// Terminates reports whether the status closes a request.
func (s NetworkStatus) Terminates() bool {
	return s == NetworkStop || s == NetworkRedirect || s == NetworkCancel
}

// NetworkPayload describes one side of a network request. Rows with an empty
// Status are the legacy single-row form and carry both ends themselves.
type NetworkPayload struct {
	ID                    NetworkID     `json:"id"`
	Status                NetworkStatus `json:"status,omitempty"`
	URI                   string        `json:"URI"`
	RedirectURI           string        `json:"RedirectURI,omitempty"`
	Pri                   int           `json:"pri"`
	Count                 int64         `json:"count,omitempty"`
	ContentType           string        `json:"contentType,omitempty"`
	StartTime             Milliseconds  `json:"startTime"`
	EndTime               Milliseconds  `json:"endTime"`
	FetchStart            Milliseconds  `json:"fetchStart,omitempty"`
	DomainLookupStart     Milliseconds  `json:"domainLookupStart,omitempty"`
	DomainLookupEnd       Milliseconds  `json:"domainLookupEnd,omitempty"`
	ConnectStart          Milliseconds  `json:"connectStart,omitempty"`
	TCPConnectEnd         Milliseconds  `json:"tcpConnectEnd,omitempty"`
	SecureConnectionStart Milliseconds  `json:"secureConnectionStart,omitempty"`
	ConnectEnd            Milliseconds  `json:"connectEnd,omitempty"`
	RequestStart          Milliseconds  `json:"requestStart,omitempty"`
	ResponseStart         Milliseconds  `json:"responseStart,omitempty"`
	ResponseEnd           Milliseconds  `json:"responseEnd,omitempty"`
}

// IPC message directions and phases.
const (
	IPCSending   = "sending"
	IPCReceiving = "receiving"

	IPCEndpoint      = "endpoint"
	IPCTransferStart = "transferStart"
	IPCTransferEnd   = "transferEnd"
)

// IPCPayload is one observation of an IPC message on one thread. The
// correlation fields (times, tids, thread names) are filled by a cross-thread
// join and stay empty when the other side was not recorded.
type IPCPayload struct {
	OtherPid       int    `json:"otherPid"`
	MessageType    string `json:"messageType"`
	MessageSeqno   int64  `json:"messageSeqno"`
	Side           string `json:"side,omitempty"`
	Direction      string `json:"direction"`
	Phase          string `json:"phase"`
	Sync           bool   `json:"sync"`
	SendTid        int    `json:"sendTid,omitempty"`
	RecvTid        int    `json:"recvTid,omitempty"`
	SendThreadName string `json:"sendThreadName,omitempty"`
	RecvThreadName string `json:"recvThreadName,omitempty"`

	StartTime     MaybeTime `json:"startTime"`
	SendStartTime MaybeTime `json:"sendStartTime"`
	SendEndTime   MaybeTime `json:"sendEndTime"`
	RecvEndTime   MaybeTime `json:"recvEndTime"`
	EndTime       MaybeTime `json:"endTime"`
}

// FileIOPayload is a file operation with an optional captured stack.
type FileIOPayload struct {
	Operation string       `json:"operation"`
	Source    string       `json:"source"`
	Filename  string       `json:"filename,omitempty"`
	StartTime Milliseconds `json:"startTime"`
	EndTime   Milliseconds `json:"endTime"`
	Stack     *int         `json:"stack,omitempty"`
	StackTime MaybeTime    `json:"stackTime"`
}

// ScreenshotPayload is one compositor frame capture.
type ScreenshotPayload struct {
	URL          StringIndex `json:"url"`
	WindowID     string      `json:"windowID"`
	WindowWidth  float64     `json:"windowWidth"`
	WindowHeight float64     `json:"windowHeight"`
}

// GenericPayload holds any payload kind without special handling.
type GenericPayload struct {
	Type   string
	Fields map[string]any
}

func (*NetworkPayload) PayloadType() string    { return TypeNetwork }
func (*IPCPayload) PayloadType() string        { return TypeIPC }
func (*FileIOPayload) PayloadType() string     { return TypeFileIO }
func (*ScreenshotPayload) PayloadType() string { return TypeCompositorScreenshot }
func (p *GenericPayload) PayloadType() string  { return p.Type }

func (*NetworkPayload) sealedPayload()    {}
func (*IPCPayload) sealedPayload()        {}
func (*FileIOPayload) sealedPayload()     {}
func (*ScreenshotPayload) sealedPayload() {}
func (*GenericPayload) sealedPayload()    {}
