package catalog

import (
	"context"
	"path"
	"strings"

	"github.com/sheerbytes/gridflux/internal/control"
	"github.com/sheerbytes/gridflux/pkg/fault"
	"github.com/sheerbytes/gridflux/pkg/protocol"
)

// Kind distinguishes data objects from collections.
type Kind int

const (
	DataObject Kind = iota + 1
	Collection
)

func (k Kind) String() string {
	switch k {
	case DataObject:
		return "data object"
	case Collection:
		return "collection"
	}
	return "unknown"
}

// ObjectInfo is what the catalog knows about a logical path.
type ObjectInfo struct {
	Path     string
	Size     int64
	Kind     Kind
	Mode     int
	Checksum string
}

// IsCollection reports whether the path names a collection.
func (o ObjectInfo) IsCollection() bool {
	return o.Kind == Collection
}

// Executable reports whether any execute bit is set.
func (o ObjectInfo) Executable() bool {
	return o.Mode&0o111 != 0
}

// Resolver answers existence and type questions about logical paths.
type Resolver interface {
	Stat(ctx context.Context, p string) (ObjectInfo, error)
}

// Caller issues control requests.
type Caller interface {
	Call(ctx context.Context, ex control.Exchange) (*control.Response, error)
}

// StatResolver resolves paths with OBJ_STAT.
type StatResolver struct {
	conn Caller
}

// NewStatResolver creates a resolver over conn.
func NewStatResolver(conn Caller) *StatResolver {
	return &StatResolver{conn: conn}
}

// Stat returns the catalog entry for p. Missing paths fail with
// ObjectNotFound.
func (r *StatResolver) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	resp, err := r.conn.Call(ctx, control.Exchange{Request: protocol.StatRequest(p)})
	if err != nil {
		return ObjectInfo{}, fault.WithPath(err, p)
	}
	st, err := protocol.DecodeObjStat(resp.Body)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{
		Path:     p,
		Size:     st.Size,
		Mode:     st.Mode,
		Checksum: st.Checksum,
		Kind:     DataObject,
	}
	if st.Type == protocol.ObjTypeCollection {
		info.Kind = Collection
	}
	return info, nil
}

// Lookup is Stat with absence reported as ok == false instead of an error.
func Lookup(ctx context.Context, r Resolver, p string) (ObjectInfo, bool, error) {
	info, err := r.Stat(ctx, p)
	if fault.Is(err, fault.ObjectNotFound) {
		return ObjectInfo{}, false, nil
	}
	if err != nil {
		return ObjectInfo{}, false, err
	}
	return info, true, nil
}

// Split returns the parent collection and leaf name of p.
func Split(p string) (parent, leaf string) {
	p = Clean(p)
	if p == "/" {
		return "/", ""
	}
	return path.Dir(p), path.Base(p)
}

// Join appends name to a collection path.
func Join(coll, name string) string {
	return path.Join(Clean(coll), name)
}

// Clean normalises a logical path.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
