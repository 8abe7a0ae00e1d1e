package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// BadgerStore is an embedded Store persisted in a badger directory. Each
// document is a JSON value under the key "<collection>/<id>".
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database at dir. An empty dir keeps
// everything in memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func collectionPrefix(collection string) []byte {
	return []byte(collection + "/")
}

func (b *BadgerStore) Create(ctx context.Context, collection string, doc value.Map) (string, error) {
	id := uuid.NewString()
	if err := b.Set(ctx, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

func (b *BadgerStore) NewID(ctx context.Context, collection string) (string, error) {
	return uuid.NewString(), ctx.Err()
}

func (b *BadgerStore) Set(ctx context.Context, collection, id string, doc value.Map) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(collection, id), raw)
	})
}

func (b *BadgerStore) Update(ctx context.Context, collection, id string, doc value.Map) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := docKey(collection, id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		} else if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
}

func (b *BadgerStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	var doc Document
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data, err := decodeDoc(val)
			doc = Document{ID: id, Data: data}
			return err
		})
	})
	return doc, err
}

func (b *BadgerStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(collection, id))
	})
}

// Find scans the collection in key order and filters in process.
func (b *BadgerStore) Find(ctx context.Context, plan *query.Plan) ([]Document, error) {
	var out []Document
	prefix := collectionPrefix(plan.Collection)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), prefix))
			if strings.HasPrefix(id, barrierPrefix) {
				continue
			}
			err := item.Value(func(val []byte) error {
				data, err := decodeDoc(val)
				if err != nil {
					return fmt.Errorf("%s/%s: %w", plan.Collection, id, err)
				}
				if plan.Matches(data) {
					out = append(out, Document{ID: id, Data: data})
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page(out, plan), nil
}

// barrierPrefix marks control keys written under a collection prefix. Ids
// starting with it are never documents.
const barrierPrefix = "\x00sub-"

// Watch subscribes to key updates under the collection prefix and returns
// once the subscription is live. The initial scan runs after that point; a
// write racing the scan can be reported twice.
func (b *BadgerStore) Watch(ctx context.Context, plan *query.Plan) (ChangeIterator, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	w := &badgerWatch{
		plan:    plan,
		cancel:  cancel,
		members: make(map[string]struct{}),
		batches: make(chan []Change, 64),
		done:    make(chan struct{}),
		barrier: barrierPrefix + uuid.NewString(),
		live:    make(chan struct{}),
	}

	prefix := collectionPrefix(plan.Collection)
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		defer close(w.batches)
		err := b.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			return w.publish(prefix, kvs)
		}, []pb.Match{{Prefix: prefix}})
		if err != nil && !errors.Is(err, context.Canceled) {
			w.setErr(err)
		}
	}()

	if err := b.awaitSubscription(ctx, plan.Collection, w, subDone); err != nil {
		w.Stop()
		return nil, err
	}

	initial, err := b.Find(ctx, &query.Plan{Collection: plan.Collection, Clauses: plan.Clauses})
	if err != nil {
		w.Stop()
		return nil, err
	}
	w.mu.Lock()
	batch := make([]Change, 0, len(initial))
	for _, d := range initial {
		w.members[d.ID] = struct{}{}
		batch = append(batch, Change{Kind: Added, Doc: d})
	}
	w.initial = batch
	w.mu.Unlock()
	return w, nil
}

// awaitSubscription writes the watch's barrier key until the subscriber sees
// it, then removes it. Subscribe registers asynchronously, so early writes
// may go unseen and are repeated.
func (b *BadgerStore) awaitSubscription(ctx context.Context, collection string, w *badgerWatch, subDone <-chan struct{}) error {
	key := docKey(collection, w.barrier)
	defer func() {
		_ = b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) })
	}()

	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := b.db.Update(func(txn *badger.Txn) error { return txn.Set(key, []byte("{}")) }); err != nil {
			return err
		}
		select {
		case <-w.live:
			return nil
		case <-subDone:
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.err != nil {
				return w.err
			}
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (b *BadgerStore) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return ctx.Err()
}

func (b *BadgerStore) Close(ctx context.Context) error {
	return b.db.Close()
}

func encodeDoc(doc value.Map) ([]byte, error) {
	if doc == nil {
		doc = value.Map{}
	}
	return json.Marshal(doc)
}

func decodeDoc(raw []byte) (value.Map, error) {
	var m value.Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type badgerWatch struct {
	plan    *query.Plan
	cancel  context.CancelFunc
	batches chan []Change
	done    chan struct{}
	once    sync.Once

	barrier  string
	live     chan struct{}
	liveOnce sync.Once

	mu      sync.Mutex
	initial []Change
	members map[string]struct{}
	err     error
}

// publish diffs a batch of key updates against the current membership.
// An empty value is a delete.
func (w *badgerWatch) publish(prefix []byte, kvs *badger.KVList) error {
	w.mu.Lock()
	var batch []Change
	for _, kv := range kvs.Kv {
		id := string(bytes.TrimPrefix(kv.Key, prefix))
		if strings.HasPrefix(id, barrierPrefix) {
			if id == w.barrier && len(kv.Value) > 0 {
				w.liveOnce.Do(func() { close(w.live) })
			}
			continue
		}
		_, member := w.members[id]
		if len(kv.Value) == 0 {
			if member {
				delete(w.members, id)
				batch = append(batch, Change{Kind: Removed, Doc: Document{ID: id, Data: value.Map{}}})
			}
			continue
		}
		data, err := decodeDoc(kv.Value)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		matches := w.plan.Matches(data)
		doc := Document{ID: id, Data: data}
		switch {
		case matches && member:
			batch = append(batch, Change{Kind: Modified, Doc: doc})
		case matches:
			w.members[id] = struct{}{}
			batch = append(batch, Change{Kind: Added, Doc: doc})
		case member:
			delete(w.members, id)
			batch = append(batch, Change{Kind: Removed, Doc: doc})
		}
	}
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	select {
	case w.batches <- batch:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

func (w *badgerWatch) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (w *badgerWatch) Next(ctx context.Context) ([]Change, error) {
	w.mu.Lock()
	if w.initial != nil {
		batch := w.initial
		w.initial = nil
		w.mu.Unlock()
		if len(batch) > 0 {
			return batch, nil
		}
	} else {
		w.mu.Unlock()
	}

	select {
	case batch, ok := <-w.batches:
		if ok {
			return batch, nil
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.err != nil {
			return nil, w.err
		}
		return nil, ErrClosed
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *badgerWatch) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.cancel()
	})
}
