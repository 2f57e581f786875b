// Package gridtest runs an in-process storage server on loopback for tests.
// It speaks the message framing, the native auth handshake and the
// parallel data port, keeps objects in memory and records every API call.
package gridtest

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/gridflux/internal/checksum"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// Defaults for a new server.
const (
	DefaultUser     = "rods"
	DefaultZone     = "tempZone"
	DefaultPassword = "rods"
	DefaultRelease  = "rods4.3.0"
)

const (
	codeGeneric       = -999000
	codeBadDescriptor = -345000
	completeTimeout   = 5 * time.Second
)

// GetStyle selects how DATA_OBJ_GET replies, so clients can be driven down
// each response branch.
type GetStyle int

const (
	// GetAuto inlines objects up to InlineLimit and goes parallel above it.
	GetAuto GetStyle = iota
	// GetHeaderOnly replies with a body but no bsLen field.
	GetHeaderOnly
	// GetEmptyReply replies with neither body nor bsLen.
	GetEmptyReply
	// GetInlineWithThreads inlines the data and also claims threads.
	GetInlineWithThreads
	// GetNegativeThreads claims a negative thread count.
	GetNegativeThreads
)

// Object is a stored data object.
type Object struct {
	Data     []byte
	Mode     int
	Checksum string
	Replicas []string
}

type openFile struct {
	path     string
	opr      int
	buf      []byte
	offset   int64
	mode     int
	verify   string
	register string

	slots   int
	workers sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithRelease sets the release reported by GET_MISC_SVR_INFO.
func WithRelease(rel string) Option { return func(s *Server) { s.release = rel } }

// WithMaxThreads caps granted threads. Zero vetoes parallel transfer.
func WithMaxThreads(n int) Option { return func(s *Server) { s.maxThreads = n } }

// WithInlineLimit sets the largest object GET returns inline.
func WithInlineLimit(n int64) Option { return func(s *Server) { s.inlineLimit = n } }

// WithGetStyle selects the GET reply shape.
func WithGetStyle(g GetStyle) Option { return func(s *Server) { s.getStyle = g } }

// WithCorruptReads flips the first byte of every object served.
func WithCorruptReads() Option { return func(s *Server) { s.corrupt = true } }

// WithChecksum selects the algorithm DATA_OBJ_CHKSUM uses.
func WithChecksum(enc checksum.Encoding) Option { return func(s *Server) { s.checksumEnc = enc } }

// WithDataPortFailure advertises a data port nobody listens on, so every
// parallel data connection is refused.
func WithDataPortFailure() Option { return func(s *Server) { s.refuseData = true } }

// WithPutThreads makes parallel PUT replies claim n threads regardless of
// the request.
func WithPutThreads(n int) Option {
	return func(s *Server) { s.putThreads = &n }
}

// Server is a fake storage server.
type Server struct {
	User     string
	Zone     string
	Password string
	Host     string
	Port     int

	release     string
	maxThreads  int
	inlineLimit int64
	getStyle    GetStyle
	corrupt     bool
	checksumEnc checksum.Encoding
	putThreads  *int
	refuseData  bool
	deadPort    int

	ln     net.Listener
	dataLn net.Listener
	wg     sync.WaitGroup

	mu         sync.Mutex
	objects    map[string]*Object
	colls      map[string]bool
	calls      []protocol.APINumber
	handles    map[int]*openFile
	cookies    map[int]int
	nextHandle int
	nextCookie int
	dataConns  int
	conns      map[net.Conn]struct{}
}

// Start launches a server and registers its shutdown with t.Cleanup.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s := &Server{
		User:        DefaultUser,
		Zone:        DefaultZone,
		Password:    DefaultPassword,
		release:     DefaultRelease,
		maxThreads:  4,
		inlineLimit: 32 << 20,
		checksumEnc: checksum.MD5,
		objects:     make(map[string]*Object),
		colls:       make(map[string]bool),
		handles:     make(map[int]*openFile),
		cookies:     make(map[int]int),
		conns:       make(map[net.Conn]struct{}),
		nextHandle:  3,
		nextCookie:  40000,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.ln, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		t.Fatalf("gridtest: listen: %v", err)
	}
	if s.dataLn, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
		s.ln.Close()
		t.Fatalf("gridtest: listen data: %v", err)
	}
	if s.refuseData {
		dead, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			s.ln.Close()
			s.dataLn.Close()
			t.Fatalf("gridtest: listen: %v", err)
		}
		s.deadPort = dead.Addr().(*net.TCPAddr).Port
		dead.Close()
	}
	addr := s.ln.Addr().(*net.TCPAddr)
	s.Host = addr.IP.String()
	s.Port = addr.Port
	s.colls["/"+s.Zone] = true
	s.colls["/"+s.Zone+"/home"] = true
	s.colls["/"+s.Zone+"/home/"+s.User] = true

	s.wg.Add(2)
	go s.acceptLoop(s.ln, s.serveControl)
	go s.acceptLoop(s.dataLn, s.serveData)
	t.Cleanup(s.Close)
	return s
}

// Home returns the user's home collection.
func (s *Server) Home() string {
	return "/" + s.Zone + "/home/" + s.User
}

// Close stops the listeners and drops open connections.
func (s *Server) Close() {
	s.ln.Close()
	s.dataLn.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// PutObject stores an object directly.
func (s *Server) PutObject(path string, data []byte, mode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = &Object{Data: append([]byte(nil), data...), Mode: mode}
}

// MakeCollection registers a collection.
func (s *Server) MakeCollection(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colls[path] = true
}

// Object returns a copy of a stored object.
func (s *Server) Object(path string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	out := *obj
	out.Data = append([]byte(nil), obj.Data...)
	out.Replicas = append([]string(nil), obj.Replicas...)
	return out, true
}

// Calls returns how many times api was called.
func (s *Server) Calls(api protocol.APINumber) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == api {
			n++
		}
	}
	return n
}

// CallLog returns every API call in order.
func (s *Server) CallLog() []protocol.APINumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.APINumber(nil), s.calls...)
}

// DataConnections returns how many data sockets were accepted.
func (s *Server) DataConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataConns
}

// OpenHandles returns how many descriptors were not completed.
func (s *Server) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Server) acceptLoop(ln net.Listener, serve func(net.Conn)) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[nc] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, nc)
				s.mu.Unlock()
				nc.Close()
			}()
			serve(nc)
		}()
	}
}

type reply struct {
	status    int
	body      *protocol.Tag
	stream    []byte
	omitBsLen bool
	errMsg    string
}

func failure(code int, msg string) reply {
	return reply{status: code, errMsg: msg}
}

func writeReply(w io.Writer, msgType string, r reply) error {
	var body, errSection []byte
	if r.body != nil {
		body = r.body.Render()
	}
	if r.errMsg != "" {
		errSection = protocol.ErrorSection(r.status, r.errMsg).Render()
	}
	hdr := protocol.Header{
		Type:     msgType,
		MsgLen:   len(body),
		ErrorLen: len(errSection),
		BsLen:    int64(len(r.stream)),
		HasBsLen: !r.omitBsLen,
		IntInfo:  r.status,
	}.Tag().Render()

	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(hdr)))
	buf.Write(prefix[:])
	buf.Write(hdr)
	buf.Write(body)
	buf.Write(errSection)
	if !r.omitBsLen {
		buf.Write(r.stream)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

type session struct {
	challenge     []byte
	authenticated bool
}

func (s *Server) serveControl(nc net.Conn) {
	msg, err := protocol.ReadMessage(nc)
	if err != nil || msg.Header.Type != protocol.TypeConnect {
		return
	}
	body, err := msg.BodyTag()
	if err != nil {
		return
	}
	if _, err := protocol.DecodeStartupPack(body); err != nil {
		return
	}
	version := protocol.Version{RelVersion: s.release, APIVersion: "d"}
	if err := writeReply(nc, protocol.TypeVersion, reply{body: version.Tag()}); err != nil {
		return
	}

	var sess session
	for {
		msg, err := protocol.ReadMessage(nc)
		if err != nil {
			return
		}
		if msg.Header.Type == protocol.TypeDisconnect {
			return
		}
		var stream []byte
		if msg.Header.BsLen > 0 {
			stream = make([]byte, msg.Header.BsLen)
			if _, err := io.ReadFull(nc, stream); err != nil {
				return
			}
		}
		body, err := msg.BodyTag()
		if err != nil {
			return
		}
		api := protocol.APINumber(msg.Header.IntInfo)
		s.mu.Lock()
		s.calls = append(s.calls, api)
		s.mu.Unlock()

		r := s.dispatch(&sess, api, body, stream)
		if err := writeReply(nc, protocol.TypeAPIReply, r); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(sess *session, api protocol.APINumber, body *protocol.Tag, stream []byte) reply {
	switch api {
	case protocol.APIAuthRequest:
		sess.challenge = make([]byte, protocol.ChallengeLen)
		_, _ = rand.Read(sess.challenge)
		return reply{body: protocol.AuthChallenge(sess.challenge)}
	case protocol.APIAuthResponse:
		return s.authResponse(sess, body)
	}
	if !sess.authenticated {
		return failure(protocol.CodeCatInvalidAuth, "not authenticated")
	}

	switch api {
	case protocol.APIGetMiscSvrInfo:
		info := protocol.MiscSvrInfo{ServerType: 1, BootTime: time.Now().Unix(), RelVersion: s.release, APIVersion: "d", Zone: s.Zone}
		return reply{body: info.Tag()}
	case protocol.APIObjStat:
		return s.objStat(body)
	case protocol.APIDataObjPut:
		return s.put(body, stream)
	case protocol.APIDataObjGet:
		return s.get(body)
	case protocol.APIDataObjWrite:
		return s.write(body, stream)
	case protocol.APIDataObjRead:
		return s.read(body)
	case protocol.APIOprComplete:
		return s.complete(body)
	case protocol.APIDataObjChksum:
		return s.checksum(body)
	case protocol.APIDataObjRepl:
		return s.replicate(body)
	case protocol.APIDataObjCopy:
		return s.copy(body)
	}
	return failure(codeGeneric, "unsupported api "+api.String())
}

func (s *Server) authResponse(sess *session, body *protocol.Tag) reply {
	if sess.challenge == nil {
		return failure(protocol.CodeCatInvalidAuth, "no challenge issued")
	}
	ans, err := protocol.DecodeAuthResponse(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	want := protocol.ChallengeResponse(sess.challenge, s.Password)
	if ans.Response != want || ans.Username != s.User+"#"+s.Zone {
		return failure(protocol.CodeCatInvalidAuth, "authentication failed")
	}
	sess.authenticated = true
	return reply{}
}

func (s *Server) objStat(body *protocol.Tag) reply {
	inp, err := protocol.DecodeDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.colls[inp.Path] {
		return reply{body: protocol.ObjStat{Type: protocol.ObjTypeCollection}.Tag()}
	}
	obj, ok := s.objects[inp.Path]
	if !ok {
		return failure(protocol.CodeUserFileDoesNotExist, inp.Path+" does not exist")
	}
	st := protocol.ObjStat{
		Size:     int64(len(obj.Data)),
		Type:     protocol.ObjTypeDataObject,
		Mode:     obj.Mode,
		Checksum: obj.Checksum,
		Owner:    s.User,
	}
	return reply{body: st.Tag()}
}

// grant decides the thread count for a request; s.mu must be held.
func (s *Server) grant(requested int) int {
	switch {
	case requested < 0:
		return 0
	case requested == 0 || requested > s.maxThreads:
		return s.maxThreads
	default:
		return requested
	}
}

// open registers a descriptor and, for threads > 0, a data cookie; s.mu
// must be held.
func (s *Server) open(of *openFile, threads int) protocol.PortalOprOut {
	h := s.nextHandle
	s.nextHandle++
	s.handles[h] = of
	out := protocol.PortalOprOut{Handle: h, NumThreads: threads}
	if threads > 0 {
		cookie := s.nextCookie
		s.nextCookie++
		s.cookies[cookie] = h
		of.slots = threads
		of.workers.Add(threads)
		port := s.dataLn.Addr().(*net.TCPAddr).Port
		if s.refuseData {
			port = s.deadPort
		}
		out.Portal = &protocol.PortList{Port: port, Cookie: cookie, Host: "127.0.0.1", WindowSize: 4 << 20}
	}
	return out
}

func (s *Server) verify(data []byte, want string) bool {
	got, err := checksum.Compute(bytes.NewReader(data), checksum.EncodingOf(want))
	return err == nil && checksum.Equal(got, want)
}

func (s *Server) put(body *protocol.Tag, stream []byte) reply {
	inp, err := protocol.DecodeDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.colls[inp.Path] {
		return failure(protocol.CodeOverwriteWithoutForce, inp.Path+" is a collection")
	}
	_, force := inp.Options.Get(protocol.KeyForce)
	if _, exists := s.objects[inp.Path]; exists && !force {
		return failure(protocol.CodeOverwriteWithoutForce, "overwrite without force flag")
	}
	verify, _ := inp.Options.Get(protocol.KeyVerifyChksum)
	register, _ := inp.Options.Get(protocol.KeyRegChksum)

	if _, inline := inp.Options.Get(protocol.KeyDataIncluded); inline {
		if verify != "" && !s.verify(stream, verify) {
			return failure(protocol.CodeUserChksumMismatch, "checksum mismatch")
		}
		obj := &Object{Data: append([]byte(nil), stream...), Mode: inp.CreateMode}
		obj.Checksum = firstNonEmpty(verify, register)
		s.objects[inp.Path] = obj
		return reply{}
	}

	if s.putThreads != nil && *s.putThreads < 0 {
		return reply{body: protocol.PortalOprOut{NumThreads: *s.putThreads}.Tag()}
	}
	threads := s.grant(inp.NumThreads)
	if s.putThreads != nil {
		threads = *s.putThreads
	}
	size := inp.DataSize
	if size < 0 {
		size = 0
	}
	of := &openFile{
		path:     inp.Path,
		opr:      protocol.OprPut,
		buf:      make([]byte, size),
		mode:     inp.CreateMode,
		verify:   verify,
		register: register,
	}
	return reply{body: s.open(of, threads).Tag()}
}

func (s *Server) get(body *protocol.Tag) reply {
	inp, err := protocol.DecodeDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[inp.Path]
	if !ok {
		return failure(protocol.CodeUserFileDoesNotExist, inp.Path+" does not exist")
	}
	data := append([]byte(nil), obj.Data...)
	if s.corrupt && len(data) > 0 {
		data[0] ^= 0xFF
	}

	switch s.getStyle {
	case GetEmptyReply:
		return reply{omitBsLen: true}
	case GetHeaderOnly:
		return reply{body: protocol.PortalOprOut{}.Tag(), omitBsLen: true}
	case GetInlineWithThreads:
		return reply{body: protocol.PortalOprOut{NumThreads: 2}.Tag(), stream: data}
	case GetNegativeThreads:
		return reply{body: protocol.PortalOprOut{NumThreads: -1}.Tag()}
	}

	if int64(len(data)) <= s.inlineLimit {
		return reply{body: protocol.PortalOprOut{}.Tag(), stream: data}
	}
	of := &openFile{path: inp.Path, opr: protocol.OprGet, buf: data, mode: obj.Mode}
	return reply{body: s.open(of, s.grant(inp.NumThreads)).Tag()}
}

func (s *Server) write(body *protocol.Tag, stream []byte) reply {
	o, err := protocol.DecodeOpenedDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.handles[o.Handle]
	if !ok || of.opr != protocol.OprPut {
		return failure(codeBadDescriptor, "bad descriptor "+strconv.Itoa(o.Handle))
	}
	end := of.offset + int64(len(stream))
	if end > int64(len(of.buf)) {
		grown := make([]byte, end)
		copy(grown, of.buf)
		of.buf = grown
	}
	copy(of.buf[of.offset:], stream)
	of.offset = end
	return reply{status: len(stream)}
}

func (s *Server) read(body *protocol.Tag) reply {
	o, err := protocol.DecodeOpenedDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	of, ok := s.handles[o.Handle]
	if !ok || of.opr != protocol.OprGet {
		return failure(codeBadDescriptor, "bad descriptor "+strconv.Itoa(o.Handle))
	}
	remaining := int64(len(of.buf)) - of.offset
	n := int64(o.Len)
	if n > remaining {
		n = remaining
	}
	chunk := of.buf[of.offset : of.offset+n]
	of.offset += n
	return reply{status: int(n), stream: chunk}
}

func (s *Server) complete(body *protocol.Tag) reply {
	h, err := protocol.DecodeInt(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	of, ok := s.handles[h]
	s.mu.Unlock()
	if !ok {
		return failure(codeBadDescriptor, "bad descriptor "+strconv.Itoa(h))
	}

	done := make(chan struct{})
	go func() {
		of.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(completeTimeout):
		return failure(codeGeneric, "data connections did not finish")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, h)
	for cookie, handle := range s.cookies {
		if handle == h {
			delete(s.cookies, cookie)
		}
	}
	if of.opr != protocol.OprPut {
		return reply{}
	}
	if of.verify != "" && !s.verify(of.buf, of.verify) {
		return failure(protocol.CodeUserChksumMismatch, "checksum mismatch")
	}
	s.objects[of.path] = &Object{
		Data:     of.buf,
		Mode:     of.mode,
		Checksum: firstNonEmpty(of.verify, of.register),
	}
	return reply{}
}

func (s *Server) checksum(body *protocol.Tag) reply {
	inp, err := protocol.DecodeDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[inp.Path]
	if !ok {
		return failure(protocol.CodeUserFileDoesNotExist, inp.Path+" does not exist")
	}
	sum, err := checksum.Compute(bytes.NewReader(obj.Data), s.checksumEnc)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	obj.Checksum = sum
	return reply{body: protocol.StrOut(sum)}
}

func (s *Server) replicate(body *protocol.Tag) reply {
	inp, err := protocol.DecodeDataObjInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[inp.Path]
	if !ok {
		return failure(protocol.CodeUserFileDoesNotExist, inp.Path+" does not exist")
	}
	resc, _ := inp.Options.Get(protocol.KeyDestResc)
	obj.Replicas = append(obj.Replicas, resc)
	return reply{}
}

func (s *Server) copy(body *protocol.Tag) reply {
	c, err := protocol.DecodeDataObjCopyInp(body)
	if err != nil {
		return failure(codeGeneric, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.objects[c.Src.Path]
	if !ok {
		return failure(protocol.CodeUserFileDoesNotExist, c.Src.Path+" does not exist")
	}
	_, force := c.Dst.Options.Get(protocol.KeyForce)
	if _, exists := s.objects[c.Dst.Path]; exists && !force {
		return failure(protocol.CodeOverwriteWithoutForce, "overwrite without force flag")
	}
	s.objects[c.Dst.Path] = &Object{Data: append([]byte(nil), src.Data...), Mode: src.Mode, Checksum: src.Checksum}
	return reply{}
}

func (s *Server) serveData(nc net.Conn) {
	cookie, err := protocol.ReadCookie(nc)
	if err != nil {
		return
	}
	s.mu.Lock()
	h, ok := s.cookies[cookie]
	of := s.handles[h]
	if !ok || of == nil || of.slots == 0 {
		s.mu.Unlock()
		return
	}
	of.slots--
	s.dataConns++
	s.mu.Unlock()
	defer of.workers.Done()

	for {
		hdr, err := protocol.ReadDataHeader(nc)
		if err != nil {
			return
		}
		if hdr.Opr == protocol.OprDone {
			return
		}
		if hdr.Offset+hdr.Length > int64(len(of.buf)) {
			return
		}
		region := of.buf[hdr.Offset : hdr.Offset+hdr.Length]
		switch hdr.Opr {
		case protocol.OprPut:
			if _, err := io.ReadFull(nc, region); err != nil {
				return
			}
		case protocol.OprGet:
			if _, err := nc.Write(region); err != nil {
				return
			}
		default:
			return
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
