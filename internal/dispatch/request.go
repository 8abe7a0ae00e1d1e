// Package dispatch runs blocking store operations on a fixed pool of
// workers and hands each caller a one-shot result.
package dispatch

import (
	"fmt"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// Kind tags a Request with the operation it carries.
type Kind int

const (
	KindInsert Kind = iota
	KindEmpty
	KindUpsert
	KindGet
	KindQuery
	KindUpdate
	KindDelete
	KindQueryBuild
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindEmpty:
		return "empty"
	case KindUpsert:
		return "upsert"
	case KindGet:
		return "get"
	case KindQuery:
		return "query"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindQueryBuild:
		return "query_build"
	case KindClose:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is one operation submitted to the Dispatcher. Requests are consumed
// exactly once; build a new one per call.
type Request struct {
	Kind       Kind
	Collection string
	ID         string
	Payload    value.Map
	Model      *query.Model

	reply chan Result
}

func NewInsert(collection string, doc value.Map) *Request {
	return &Request{Kind: KindInsert, Collection: collection, Payload: doc}
}

func NewEmpty(collection string) *Request {
	return &Request{Kind: KindEmpty, Collection: collection}
}

func NewUpsert(collection, id string, doc value.Map) *Request {
	return &Request{Kind: KindUpsert, Collection: collection, ID: id, Payload: doc}
}

func NewGet(collection, id string) *Request {
	return &Request{Kind: KindGet, Collection: collection, ID: id}
}

func NewQuery(m *query.Model) *Request {
	return &Request{Kind: KindQuery, Collection: m.Collection(), Model: m}
}

func NewUpdate(collection, id string, doc value.Map) *Request {
	return &Request{Kind: KindUpdate, Collection: collection, ID: id, Payload: doc}
}

func NewDelete(collection, id string) *Request {
	return &Request{Kind: KindDelete, Collection: collection, ID: id}
}

func NewQueryBuild(collection string) *Request {
	return &Request{Kind: KindQueryBuild, Collection: collection}
}

func NewClose() *Request {
	return &Request{Kind: KindClose}
}

// prepare detaches the request from caller-owned state: the payload is deep
// copied and the model frozen.
func (r *Request) prepare() {
	r.Payload = r.Payload.Clone()
	if r.Model != nil {
		r.Model.Freeze()
	}
	r.reply = make(chan Result, 1)
}

func (r *Request) target() string {
	if r.ID == "" {
		return r.Collection
	}
	return r.Collection + "/" + r.ID
}
