package protocol

import "strconv"

// Message types carried in MsgHeader_PI.
const (
	TypeConnect    = "RODS_CONNECT"
	TypeVersion    = "RODS_VERSION"
	TypeAPIRequest = "RODS_API_REQ"
	TypeAPIReply   = "RODS_API_REPLY"
	TypeDisconnect = "RODS_DISCONNECT"
)

// APINumber identifies a server call.
type APINumber int

const (
	APIDataObjPut     APINumber = 606
	APIDataObjRepl    APINumber = 607
	APIDataObjGet     APINumber = 608
	APIDataObjCopy    APINumber = 613
	APIOprComplete    APINumber = 626
	APIDataObjChksum  APINumber = 629
	APIObjStat        APINumber = 633
	APIDataObjRead    APINumber = 675
	APIDataObjWrite   APINumber = 676
	APIGetMiscSvrInfo APINumber = 700
	APIAuthRequest    APINumber = 703
	APIAuthResponse   APINumber = 704
)

var apiNames = map[APINumber]string{
	APIDataObjPut:     "DATA_OBJ_PUT",
	APIDataObjRepl:    "DATA_OBJ_REPL",
	APIDataObjGet:     "DATA_OBJ_GET",
	APIDataObjCopy:    "DATA_OBJ_COPY",
	APIOprComplete:    "OPR_COMPLETE",
	APIDataObjChksum:  "DATA_OBJ_CHKSUM",
	APIObjStat:        "OBJ_STAT",
	APIDataObjRead:    "DATA_OBJ_READ",
	APIDataObjWrite:   "DATA_OBJ_WRITE",
	APIGetMiscSvrInfo: "GET_MISC_SVR_INFO",
	APIAuthRequest:    "AUTH_REQUEST",
	APIAuthResponse:   "AUTH_RESPONSE",
}

func (n APINumber) String() string {
	if s, ok := apiNames[n]; ok {
		return s
	}
	return "API_" + strconv.Itoa(int(n))
}

// Operation types for DataObjInp_PI and the parallel data header.
const (
	OprPut       = 1
	OprGet       = 2
	OprReplicate = 6
	OprCopyDest  = 10
	OprCopySrc   = 11
	OprDone      = 9999
)

// Keywords understood in KeyValPair_PI.
const (
	KeyForce        = "forceFlag"
	KeyDataIncluded = "dataIncluded"
	KeyRegChksum    = "regChksum"
	KeyVerifyChksum = "verifyChksum"
	KeyDestResc     = "destRescName"
	KeyResc         = "rescName"
	KeyDataType     = "dataType"
	KeyAll          = "all"
)

// File modes used for createMode.
const (
	ModeDefault    = 0o100644
	ModeExecutable = 0o100755
)

// Object types reported by OBJ_STAT.
const (
	ObjTypeDataObject = 1
	ObjTypeCollection = 2
)

const (
	// ProtocolXML selects the XML packing dialect in StartupPack_PI.
	ProtocolXML = 1
	// MaxHeaderLen bounds the MsgHeader_PI length prefix.
	MaxHeaderLen = 1 << 20
	// MaxBodyLen bounds message and error bodies.
	MaxBodyLen = 64 << 20
	// ChallengeLen is the size of the native authentication challenge.
	ChallengeLen = 64
	// PasswordPadLen is the password field width mixed into the auth digest.
	PasswordPadLen = 50
)
