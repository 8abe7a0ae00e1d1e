package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// MemoryStore is an in-process Store. It backs the test suites and the
// "memory" backend for local development; nothing is persisted.
//
// Find returns documents ordered by id, like Firestore's default ordering.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]value.Map
	watches     map[*memoryWatch]struct{}
	closed      bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]value.Map),
		watches:     make(map[*memoryWatch]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, collection string, doc value.Map) (string, error) {
	id := uuid.NewString()
	if err := m.write(ctx, collection, id, doc, false); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MemoryStore) NewID(ctx context.Context, collection string) (string, error) {
	if err := m.check(ctx); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (m *MemoryStore) Set(ctx context.Context, collection, id string, doc value.Map) error {
	return m.write(ctx, collection, id, doc, false)
}

func (m *MemoryStore) Update(ctx context.Context, collection, id string, doc value.Map) error {
	return m.write(ctx, collection, id, doc, true)
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := m.check(ctx); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Data: doc.Clone()}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.collections[collection][id]
	if !ok {
		return nil
	}
	delete(m.collections[collection], id)
	m.notify(collection, id, before, nil)
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, plan *query.Plan) ([]Document, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return page(m.matching(plan), plan), nil
}

func (m *MemoryStore) Watch(ctx context.Context, plan *query.Plan) (ChangeIterator, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &memoryWatch{
		store:   m,
		plan:    plan,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	if initial := m.matching(plan); len(initial) > 0 {
		batch := make([]Change, len(initial))
		for i, d := range initial {
			batch[i] = Change{Kind: Added, Doc: d}
		}
		w.push(batch)
	}
	m.watches[w] = struct{}{}
	return w, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.check(ctx)
}

// Close stops every open watch. Later calls fail with ErrClosed.
func (m *MemoryStore) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	watches := make([]*memoryWatch, 0, len(m.watches))
	for w := range m.watches {
		watches = append(watches, w)
	}
	m.watches = make(map[*memoryWatch]struct{})
	m.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
	return nil
}

// BreakWatches terminates every open watch with err, the way a dropped
// connection would.
func (m *MemoryStore) BreakWatches(err error) {
	m.mu.Lock()
	watches := make([]*memoryWatch, 0, len(m.watches))
	for w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, w := range watches {
		w.fail(err)
	}
}

// WatchCount returns the number of open watches.
func (m *MemoryStore) WatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watches)
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) write(ctx context.Context, collection, id string, doc value.Map, mustExist bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	docs := m.collections[collection]
	if docs == nil {
		docs = make(map[string]value.Map)
		m.collections[collection] = docs
	}
	before, exists := docs[id]
	if mustExist && !exists {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	after := doc.Clone()
	if after == nil {
		after = value.Map{}
	}
	docs[id] = after
	m.notify(collection, id, before, after)
	return nil
}

// matching returns the documents of plan's collection matching its clauses,
// ordered by id. Caller holds m.mu.
func (m *MemoryStore) matching(plan *query.Plan) []Document {
	docs := m.collections[plan.Collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Document
	for _, id := range ids {
		if plan.Matches(docs[id]) {
			out = append(out, Document{ID: id, Data: docs[id].Clone()})
		}
	}
	return out
}

// notify diffs a write against every watch on the collection. A nil before
// means the document was created, a nil after means it was deleted. Caller
// holds m.mu.
func (m *MemoryStore) notify(collection, id string, before, after value.Map) {
	for w := range m.watches {
		if w.plan.Collection != collection {
			continue
		}
		if c, ok := diff(w.plan, id, before, after); ok {
			w.push([]Change{c})
		}
	}
}

// diff turns a single document transition into a result-set change for plan.
func diff(plan *query.Plan, id string, before, after value.Map) (Change, bool) {
	was := before != nil && plan.Matches(before)
	is := after != nil && plan.Matches(after)
	switch {
	case !was && is:
		return Change{Kind: Added, Doc: Document{ID: id, Data: after.Clone()}}, true
	case was && is:
		return Change{Kind: Modified, Doc: Document{ID: id, Data: after.Clone()}}, true
	case was && !is:
		data := before
		if after != nil {
			data = after
		}
		return Change{Kind: Removed, Doc: Document{ID: id, Data: data.Clone()}}, true
	}
	return Change{}, false
}

// page applies offset and limit to an ordered result.
func page(docs []Document, plan *query.Plan) []Document {
	if plan.HasOffset {
		if plan.Offset >= len(docs) {
			return nil
		}
		if plan.Offset > 0 {
			docs = docs[plan.Offset:]
		}
	}
	if plan.HasLimit && plan.Limit >= 0 && plan.Limit < len(docs) {
		docs = docs[:plan.Limit]
	}
	return docs
}

type memoryWatch struct {
	store *MemoryStore
	plan  *query.Plan

	mu      sync.Mutex
	queue   [][]Change
	err     error
	signal  chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func (w *memoryWatch) push(batch []Change) {
	w.mu.Lock()
	w.queue = append(w.queue, batch)
	w.mu.Unlock()
	w.wake()
}

func (w *memoryWatch) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.wake()
}

func (w *memoryWatch) wake() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *memoryWatch) Next(ctx context.Context) ([]Change, error) {
	for {
		select {
		case <-w.stopped:
			return nil, ErrClosed
		default:
		}

		w.mu.Lock()
		if len(w.queue) > 0 {
			batch := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			return batch, nil
		}
		err := w.err
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}

		select {
		case <-w.signal:
		case <-w.stopped:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (w *memoryWatch) Stop() {
	w.store.mu.Lock()
	delete(w.store.watches, w)
	w.store.mu.Unlock()
	w.stop()
}

func (w *memoryWatch) stop() {
	w.once.Do(func() { close(w.stopped) })
}
