package protocol

// Request decoders, used by servers and by tests that inspect traffic.

// DecodeStartupPack reads a StartupPack_PI.
func DecodeStartupPack(t *Tag) (StartupPack, error) {
	var p StartupPack
	if err := expect(t, "StartupPack_PI"); err != nil {
		return p, err
	}
	var err error
	if p.ReconnFlag, err = t.GetInt("reconnFlag"); err != nil {
		return p, err
	}
	if p.ConnectCnt, err = t.GetInt("connectCnt"); err != nil {
		return p, err
	}
	p.ProxyUser, _ = t.OptionalStr("proxyUser")
	p.ProxyZone, _ = t.OptionalStr("proxyRcatZone")
	if p.ClientUser, err = t.GetStr("clientUser"); err != nil {
		return p, err
	}
	if p.ClientZone, err = t.GetStr("clientRcatZone"); err != nil {
		return p, err
	}
	p.RelVersion, _ = t.OptionalStr("relVersion")
	p.APIVersion, _ = t.OptionalStr("apiVersion")
	p.Option, _ = t.OptionalStr("option")
	return p, nil
}

// DecodeDataObjInp reads a DataObjInp_PI. Number is left unset.
func DecodeDataObjInp(t *Tag) (DataObjInp, error) {
	var d DataObjInp
	if err := expect(t, "DataObjInp_PI"); err != nil {
		return d, err
	}
	var err error
	if d.Path, err = t.GetStr("objPath"); err != nil {
		return d, err
	}
	if d.CreateMode, err = t.GetInt("createMode"); err != nil {
		return d, err
	}
	if d.OpenFlags, err = t.GetInt("openFlags"); err != nil {
		return d, err
	}
	if d.Offset, err = t.GetInt64("offset"); err != nil {
		return d, err
	}
	if d.DataSize, err = t.GetInt64("dataSize"); err != nil {
		return d, err
	}
	if d.NumThreads, err = t.GetInt("numThreads"); err != nil {
		return d, err
	}
	if d.OprType, err = t.GetInt("oprType"); err != nil {
		return d, err
	}
	d.Options, err = ParseKeyVals(t.Child("KeyValPair_PI"))
	return d, err
}

// DecodeOpenedDataObjInp reads an OpenedDataObjInp_PI. Number is left unset.
func DecodeOpenedDataObjInp(t *Tag) (OpenedDataObjInp, error) {
	var o OpenedDataObjInp
	if err := expect(t, "OpenedDataObjInp_PI"); err != nil {
		return o, err
	}
	var err error
	if o.Handle, err = t.GetInt("l1descInx"); err != nil {
		return o, err
	}
	if o.Len, err = t.GetInt("len"); err != nil {
		return o, err
	}
	if o.Whence, err = t.GetInt("whence"); err != nil {
		return o, err
	}
	if o.OprType, err = t.GetInt("oprType"); err != nil {
		return o, err
	}
	if o.Offset, err = t.GetInt64("offset"); err != nil {
		return o, err
	}
	if o.BytesWritten, err = t.GetInt64("bytesWritten"); err != nil {
		return o, err
	}
	o.Options, err = ParseKeyVals(t.Child("KeyValPair_PI"))
	return o, err
}

// DecodeDataObjCopyInp reads a DataObjCopyInp_PI.
func DecodeDataObjCopyInp(t *Tag) (DataObjCopyInp, error) {
	var c DataObjCopyInp
	if err := expect(t, "DataObjCopyInp_PI"); err != nil {
		return c, err
	}
	inps := t.All("DataObjInp_PI")
	if len(inps) != 2 {
		return c, t.missing("DataObjInp_PI")
	}
	var err error
	if c.Src, err = DecodeDataObjInp(inps[0]); err != nil {
		return c, err
	}
	c.Dst, err = DecodeDataObjInp(inps[1])
	return c, err
}

// ErrorSection renders an RError_PI carrying one message.
func ErrorSection(code int, msg string) *Tag {
	return NewTag("RError_PI",
		Int("count", 1),
		NewTag("RErrMsg_PI", Int("status", code), Str("msg", msg)),
	)
}
