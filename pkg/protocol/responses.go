package protocol

import (
	"encoding/base64"

	"github.com/pkg/errors"

	"github.com/sheerbytes/gridflux/pkg/fault"
)

// Version is the server's answer to RODS_CONNECT.
type Version struct {
	Status     int
	RelVersion string
	APIVersion string
	ReconnPort int
	ReconnAddr string
	Cookie     int
}

func (v Version) Tag() *Tag {
	return NewTag("Version_PI",
		Int("status", v.Status),
		Str("relVersion", v.RelVersion),
		Str("apiVersion", v.APIVersion),
		Int("reconnPort", v.ReconnPort),
		Str("reconnAddr", v.ReconnAddr),
		Int("cookie", v.Cookie),
	)
}

// DecodeVersion reads a Version_PI.
func DecodeVersion(t *Tag) (Version, error) {
	var v Version
	if err := expect(t, "Version_PI"); err != nil {
		return v, err
	}
	var err error
	if v.Status, err = t.GetInt("status"); err != nil {
		return v, err
	}
	if v.RelVersion, err = t.GetStr("relVersion"); err != nil {
		return v, err
	}
	v.APIVersion, _ = t.OptionalStr("apiVersion")
	v.ReconnAddr, _ = t.OptionalStr("reconnAddr")
	if t.Has("reconnPort") {
		if v.ReconnPort, err = t.GetInt("reconnPort"); err != nil {
			return v, err
		}
	}
	if t.Has("cookie") {
		if v.Cookie, err = t.GetInt("cookie"); err != nil {
			return v, err
		}
	}
	return v, nil
}

// AuthChallenge is the native authentication challenge.
func AuthChallenge(challenge []byte) *Tag {
	return NewTag("authRequestOut_PI", Str("challenge", base64.StdEncoding.EncodeToString(challenge)))
}

// DecodeAuthChallenge returns the raw challenge bytes.
func DecodeAuthChallenge(t *Tag) ([]byte, error) {
	if err := expect(t, "authRequestOut_PI"); err != nil {
		return nil, err
	}
	enc, err := t.GetStr("challenge")
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fault.Wrap(fault.ProtocolViolation, "decode", errors.Wrap(err, "challenge"))
	}
	if len(raw) < ChallengeLen {
		return nil, fault.Newf(fault.ProtocolViolation, "decode", "challenge is %d bytes", len(raw))
	}
	return raw[:ChallengeLen], nil
}

// DecodeAuthResponse reads an authResponseInp_PI.
func DecodeAuthResponse(t *Tag) (AuthResponseInp, error) {
	var a AuthResponseInp
	if err := expect(t, "authResponseInp_PI"); err != nil {
		return a, err
	}
	var err error
	if a.Response, err = t.GetStr("response"); err != nil {
		return a, err
	}
	a.Username, err = t.GetStr("username")
	return a, err
}

// MiscSvrInfo describes the server build.
type MiscSvrInfo struct {
	ServerType int
	BootTime   int64
	RelVersion string
	APIVersion string
	Zone       string
}

func (m MiscSvrInfo) Tag() *Tag {
	return NewTag("MiscSvrInfo_PI",
		Int("serverType", m.ServerType),
		Int64("serverBootTime", m.BootTime),
		Str("relVersion", m.RelVersion),
		Str("apiVersion", m.APIVersion),
		Str("rodsZone", m.Zone),
	)
}

// DecodeMiscSvrInfo reads a MiscSvrInfo_PI.
func DecodeMiscSvrInfo(t *Tag) (MiscSvrInfo, error) {
	var m MiscSvrInfo
	if err := expect(t, "MiscSvrInfo_PI"); err != nil {
		return m, err
	}
	var err error
	if m.ServerType, err = t.GetInt("serverType"); err != nil {
		return m, err
	}
	if m.BootTime, _, err = t.OptionalInt64("serverBootTime"); err != nil {
		return m, err
	}
	if m.RelVersion, err = t.GetStr("relVersion"); err != nil {
		return m, err
	}
	m.APIVersion, _ = t.OptionalStr("apiVersion")
	m.Zone, _ = t.OptionalStr("rodsZone")
	return m, nil
}

// ObjStat is the catalog view of a path.
type ObjStat struct {
	Size       int64
	Type       int
	Mode       int
	DataID     string
	Checksum   string
	Owner      string
	OwnerZone  string
	CreateTime string
	ModifyTime string
}

func (s ObjStat) Tag() *Tag {
	return NewTag("RodsObjStat_PI",
		Int64("objSize", s.Size),
		Int("objType", s.Type),
		Int("dataMode", s.Mode),
		Str("dataId", s.DataID),
		Str("chksum", s.Checksum),
		Str("ownerName", s.Owner),
		Str("ownerZone", s.OwnerZone),
		Str("createTime", s.CreateTime),
		Str("modifyTime", s.ModifyTime),
	)
}

// DecodeObjStat reads a RodsObjStat_PI.
func DecodeObjStat(t *Tag) (ObjStat, error) {
	var s ObjStat
	if err := expect(t, "RodsObjStat_PI"); err != nil {
		return s, err
	}
	var err error
	if s.Size, err = t.GetInt64("objSize"); err != nil {
		return s, err
	}
	if s.Type, err = t.GetInt("objType"); err != nil {
		return s, err
	}
	if t.Has("dataMode") {
		if s.Mode, err = t.GetInt("dataMode"); err != nil {
			return s, err
		}
	}
	s.DataID, _ = t.OptionalStr("dataId")
	s.Checksum, _ = t.OptionalStr("chksum")
	s.Owner, _ = t.OptionalStr("ownerName")
	s.OwnerZone, _ = t.OptionalStr("ownerZone")
	s.CreateTime, _ = t.OptionalStr("createTime")
	s.ModifyTime, _ = t.OptionalStr("modifyTime")
	return s, nil
}

// PortList locates the parallel data port.
type PortList struct {
	Port       int
	Cookie     int
	Sock       int
	WindowSize int
	Host       string
}

// PortalOprOut answers a PUT or GET that may go parallel.
type PortalOprOut struct {
	Status     int
	Handle     int
	NumThreads int
	Checksum   string
	// Portal is nil when the server sent no PortList_PI.
	Portal *PortList
}

func (p PortalOprOut) Tag() *Tag {
	t := NewTag("PortalOprOut_PI",
		Int("status", p.Status),
		Int("l1descInx", p.Handle),
		Int("numThreads", p.NumThreads),
		Str("chksum", p.Checksum),
	)
	if p.Portal != nil {
		t.Add(NewTag("PortList_PI",
			Int("portNum", p.Portal.Port),
			Int("cookie", p.Portal.Cookie),
			Int("sock", p.Portal.Sock),
			Int("windowSize", p.Portal.WindowSize),
			Str("hostAddr", p.Portal.Host),
		))
	}
	return t
}

// DecodePortalOprOut reads a PortalOprOut_PI.
func DecodePortalOprOut(t *Tag) (PortalOprOut, error) {
	var p PortalOprOut
	if err := expect(t, "PortalOprOut_PI"); err != nil {
		return p, err
	}
	var err error
	if p.Status, err = t.GetInt("status"); err != nil {
		return p, err
	}
	if p.Handle, err = t.GetInt("l1descInx"); err != nil {
		return p, err
	}
	if p.NumThreads, err = t.GetInt("numThreads"); err != nil {
		return p, err
	}
	p.Checksum, _ = t.OptionalStr("chksum")
	pl := t.Child("PortList_PI")
	if pl == nil {
		return p, nil
	}
	portal := &PortList{}
	if portal.Port, err = pl.GetInt("portNum"); err != nil {
		return p, err
	}
	if portal.Cookie, err = pl.GetInt("cookie"); err != nil {
		return p, err
	}
	if pl.Has("sock") {
		if portal.Sock, err = pl.GetInt("sock"); err != nil {
			return p, err
		}
	}
	if pl.Has("windowSize") {
		if portal.WindowSize, err = pl.GetInt("windowSize"); err != nil {
			return p, err
		}
	}
	if portal.Host, err = pl.GetStr("hostAddr"); err != nil {
		return p, err
	}
	p.Portal = portal
	return p, nil
}

// StrOut wraps a single string answer (STR_PI).
func StrOut(s string) *Tag {
	return NewTag("STR_PI", Str("myStr", s))
}

// DecodeStr reads a STR_PI.
func DecodeStr(t *Tag) (string, error) {
	if err := expect(t, "STR_PI"); err != nil {
		return "", err
	}
	return t.GetStr("myStr")
}

// DecodeInt reads an INT_PI.
func DecodeInt(t *Tag) (int, error) {
	if err := expect(t, "INT_PI"); err != nil {
		return 0, err
	}
	return t.GetInt("myInt")
}

func expect(t *Tag, name string) error {
	if t == nil {
		return fault.Newf(fault.ProtocolViolation, "decode", "expected %s, got empty body", name)
	}
	if t.Name != name {
		return fault.Newf(fault.ProtocolViolation, "decode", "expected %s, got %s", name, t.Name)
	}
	return nil
}
