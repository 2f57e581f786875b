package protocol

import "github.com/sheerbytes/gridflux/pkg/fault"

// Packet is anything that renders to exactly one packing instruction.
type Packet interface {
	Tag() *Tag
}

// Request is an API call. Body returns nil for calls without a body.
type Request interface {
	API() APINumber
	Body() *Tag
}

// Encode returns the body tree and API number of req.
func Encode(req Request) (*Tag, APINumber) {
	return req.Body(), req.API()
}

// KeyVal is one keyword/value option.
type KeyVal struct {
	Key   string
	Value string
}

// KeyVals is an ordered option list rendered as KeyValPair_PI.
type KeyVals []KeyVal

// Set replaces the value for key or appends it.
func (kv *KeyVals) Set(key, value string) {
	for i := range *kv {
		if (*kv)[i].Key == key {
			(*kv)[i].Value = value
			return
		}
	}
	*kv = append(*kv, KeyVal{Key: key, Value: value})
}

// Get returns the value for key.
func (kv KeyVals) Get(key string) (string, bool) {
	for _, p := range kv {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Tag renders all keywords first, then all values, as the server expects.
func (kv KeyVals) Tag() *Tag {
	t := NewTag("KeyValPair_PI", Int("ssLen", len(kv)))
	for _, p := range kv {
		t.Add(Str("keyWord", p.Key))
	}
	for _, p := range kv {
		t.Add(Str("svalue", p.Value))
	}
	return t
}

// ParseKeyVals reads a KeyValPair_PI node.
func ParseKeyVals(t *Tag) (KeyVals, error) {
	if t == nil {
		return nil, nil
	}
	n, err := t.GetInt("ssLen")
	if err != nil {
		return nil, err
	}
	keys := t.All("keyWord")
	vals := t.All("svalue")
	if len(keys) != n || len(vals) != n {
		return nil, fault.Newf(fault.ProtocolViolation, "decode",
			"KeyValPair_PI declares %d pairs, has %d keys and %d values", n, len(keys), len(vals))
	}
	out := make(KeyVals, n)
	for i := range keys {
		out[i] = KeyVal{Key: keys[i].Value, Value: vals[i].Value}
	}
	return out, nil
}

// StartupPack opens a session (RODS_CONNECT).
type StartupPack struct {
	ReconnFlag int
	ConnectCnt int
	ProxyUser  string
	ProxyZone  string
	ClientUser string
	ClientZone string
	RelVersion string
	APIVersion string
	Option     string
}

func (p StartupPack) Tag() *Tag {
	return NewTag("StartupPack_PI",
		Int("irodsProt", ProtocolXML),
		Int("reconnFlag", p.ReconnFlag),
		Int("connectCnt", p.ConnectCnt),
		Str("proxyUser", p.ProxyUser),
		Str("proxyRcatZone", p.ProxyZone),
		Str("clientUser", p.ClientUser),
		Str("clientRcatZone", p.ClientZone),
		Str("relVersion", p.RelVersion),
		Str("apiVersion", p.APIVersion),
		Str("option", p.Option),
	)
}

// AuthRequest asks for a native authentication challenge.
type AuthRequest struct{}

func (AuthRequest) API() APINumber { return APIAuthRequest }
func (AuthRequest) Body() *Tag     { return nil }

// AuthResponseInp answers a challenge. Response is already base64 encoded.
type AuthResponseInp struct {
	Response string
	Username string
}

func (AuthResponseInp) API() APINumber { return APIAuthResponse }

func (a AuthResponseInp) Body() *Tag {
	return NewTag("authResponseInp_PI",
		Str("response", a.Response),
		Str("username", a.Username),
	)
}

// MiscSvrInfoRequest asks for server type, release and zone.
type MiscSvrInfoRequest struct{}

func (MiscSvrInfoRequest) API() APINumber { return APIGetMiscSvrInfo }
func (MiscSvrInfoRequest) Body() *Tag     { return nil }

// DataObjInp addresses a data object. Number selects the call it is sent
// with: put, get, replicate, checksum or stat.
type DataObjInp struct {
	Number     APINumber
	Path       string
	CreateMode int
	OpenFlags  int
	Offset     int64
	DataSize   int64
	NumThreads int
	OprType    int
	Options    KeyVals
}

func (d DataObjInp) API() APINumber { return d.Number }
func (d DataObjInp) Body() *Tag     { return d.Tag() }

func (d DataObjInp) Tag() *Tag {
	return NewTag("DataObjInp_PI",
		Str("objPath", d.Path),
		Int("createMode", d.CreateMode),
		Int("openFlags", d.OpenFlags),
		Int64("offset", d.Offset),
		Int64("dataSize", d.DataSize),
		Int("numThreads", d.NumThreads),
		Int("oprType", d.OprType),
		d.Options.Tag(),
	)
}

// Open flags.
const (
	OpenReadOnly  = 0
	OpenWriteOnly = 1
	OpenReadWrite = 2
	OpenCreate    = 0o100
	OpenTruncate  = 0o1000
)

// PutRequest builds a DATA_OBJ_PUT. numThreads -1 asks for no threading.
func PutRequest(path string, size int64, numThreads int, executable bool, opts KeyVals) DataObjInp {
	mode := ModeDefault
	if executable {
		mode = ModeExecutable
	}
	return DataObjInp{
		Number:     APIDataObjPut,
		Path:       path,
		CreateMode: mode,
		OpenFlags:  OpenWriteOnly | OpenCreate | OpenTruncate,
		DataSize:   size,
		NumThreads: numThreads,
		OprType:    OprPut,
		Options:    opts,
	}
}

// GetRequest builds a DATA_OBJ_GET.
func GetRequest(path string, size int64, numThreads int, opts KeyVals) DataObjInp {
	return DataObjInp{
		Number:     APIDataObjGet,
		Path:       path,
		OpenFlags:  OpenReadOnly,
		DataSize:   size,
		NumThreads: numThreads,
		OprType:    OprGet,
		Options:    opts,
	}
}

// ReplicateRequest builds a DATA_OBJ_REPL to the given resource.
func ReplicateRequest(path, resource string) DataObjInp {
	var opts KeyVals
	if resource != "" {
		opts.Set(KeyDestResc, resource)
	}
	return DataObjInp{Number: APIDataObjRepl, Path: path, OprType: OprReplicate, Options: opts}
}

// ChecksumRequest builds a DATA_OBJ_CHKSUM.
func ChecksumRequest(path string) DataObjInp {
	return DataObjInp{Number: APIDataObjChksum, Path: path}
}

// StatRequest builds an OBJ_STAT.
func StatRequest(path string) DataObjInp {
	return DataObjInp{Number: APIObjStat, Path: path}
}

// DataObjCopyInp copies one object to another path.
type DataObjCopyInp struct {
	Src DataObjInp
	Dst DataObjInp
}

func (DataObjCopyInp) API() APINumber { return APIDataObjCopy }

func (c DataObjCopyInp) Body() *Tag {
	return NewTag("DataObjCopyInp_PI", c.Src.Tag(), c.Dst.Tag())
}

// CopyRequest builds a DATA_OBJ_COPY.
func CopyRequest(src, dst, resource string, force bool) DataObjCopyInp {
	var opts KeyVals
	if resource != "" {
		opts.Set(KeyDestResc, resource)
	}
	if force {
		opts.Set(KeyForce, "")
	}
	return DataObjCopyInp{
		Src: DataObjInp{Path: src, OprType: OprCopySrc},
		Dst: DataObjInp{Path: dst, CreateMode: ModeDefault, OprType: OprCopyDest, Options: opts},
	}
}

// OpenedDataObjInp addresses an already opened descriptor. Number selects
// DATA_OBJ_READ or DATA_OBJ_WRITE.
type OpenedDataObjInp struct {
	Number       APINumber
	Handle       int
	Len          int
	Whence       int
	OprType      int
	Offset       int64
	BytesWritten int64
	Options      KeyVals
}

func (o OpenedDataObjInp) API() APINumber { return o.Number }

func (o OpenedDataObjInp) Body() *Tag {
	return NewTag("OpenedDataObjInp_PI",
		Int("l1descInx", o.Handle),
		Int("len", o.Len),
		Int("whence", o.Whence),
		Int("oprType", o.OprType),
		Int64("offset", o.Offset),
		Int64("bytesWritten", o.BytesWritten),
		o.Options.Tag(),
	)
}

// ReadRequest reads up to n bytes from handle.
func ReadRequest(handle, n int) OpenedDataObjInp {
	return OpenedDataObjInp{Number: APIDataObjRead, Handle: handle, Len: n}
}

// WriteRequest writes n bytes, carried as the binary stream, to handle.
func WriteRequest(handle, n int) OpenedDataObjInp {
	return OpenedDataObjInp{Number: APIDataObjWrite, Handle: handle, Len: n}
}

// OprComplete releases a server-side descriptor.
type OprComplete struct {
	Handle int
}

func (OprComplete) API() APINumber { return APIOprComplete }

func (o OprComplete) Body() *Tag {
	return NewTag("INT_PI", Int("myInt", o.Handle))
}
