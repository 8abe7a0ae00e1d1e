package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// FirestoreStore is a Cloud Firestore implementation of Store.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore opens a client authenticated with the service account
// key at credentialsPath. An empty projectID is detected from the key.
func NewFirestoreStore(ctx context.Context, projectID, credentialsPath string) (*FirestoreStore, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	client, err := firestore.NewClient(ctx, projectID, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (f *FirestoreStore) Create(ctx context.Context, collection string, doc value.Map) (string, error) {
	ref := f.client.Collection(collection).NewDoc()
	if _, err := ref.Create(ctx, doc.NativeMap()); err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (f *FirestoreStore) NewID(ctx context.Context, collection string) (string, error) {
	return f.client.Collection(collection).NewDoc().ID, nil
}

func (f *FirestoreStore) Set(ctx context.Context, collection, id string, doc value.Map) error {
	_, err := f.client.Collection(collection).Doc(id).Set(ctx, doc.NativeMap())
	return err
}

// Update replaces the whole document inside a transaction so a missing
// document is reported instead of created.
func (f *FirestoreStore) Update(ctx context.Context, collection, id string, doc value.Map) error {
	ref := f.client.Collection(collection).Doc(id)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, doc.NativeMap())
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return err
}

func (f *FirestoreStore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, err
	}
	return fromSnapshot(snap)
}

func (f *FirestoreStore) Delete(ctx context.Context, collection, id string) error {
	_, err := f.client.Collection(collection).Doc(id).Delete(ctx)
	return err
}

func (f *FirestoreStore) Find(ctx context.Context, plan *query.Plan) ([]Document, error) {
	snaps, err := f.query(plan).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(snaps))
	for _, snap := range snaps {
		d, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Watch registers a snapshot listener. Firestore's first snapshot reports
// every matching document as added, later ones carry per-document diffs.
func (f *FirestoreStore) Watch(ctx context.Context, plan *query.Plan) (ChangeIterator, error) {
	listenCtx, cancel := context.WithCancel(context.Background())
	w := &firestoreWatch{
		it:      f.query(plan).Snapshots(listenCtx),
		cancel:  cancel,
		batches: make(chan []Change),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (f *FirestoreStore) Ping(ctx context.Context) error {
	// Any cheap read proves the credentials and the connection.
	_, err := f.client.Collections(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func (f *FirestoreStore) Close(ctx context.Context) error {
	return f.client.Close()
}

func (f *FirestoreStore) query(plan *query.Plan) firestore.Query {
	return query.Fold[firestore.Query](plan, f.client.Collection(plan.Collection).Query, firestoreFolder{})
}

type firestoreFolder struct{}

func (firestoreFolder) Limit(q firestore.Query, n int) firestore.Query  { return q.Limit(n) }
func (firestoreFolder) Offset(q firestore.Query, n int) firestore.Query { return q.Offset(n) }
func (firestoreFolder) Where(q firestore.Query, c query.Clause) firestore.Query {
	return q.Where(c.Field, c.Op.String(), c.Value.Native())
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (Document, error) {
	data, err := value.FromMap(nativeFirestore(snap.Data()))
	if err != nil {
		return Document{}, fmt.Errorf("document %s: %w", snap.Ref.Path, err)
	}
	return Document{ID: snap.Ref.ID, Data: data}, nil
}

// nativeFirestore flattens references into their paths.
func nativeFirestore(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = nativeFirestoreValue(v)
	}
	return m
}

func nativeFirestoreValue(v any) any {
	switch t := v.(type) {
	case *firestore.DocumentRef:
		if t == nil {
			return nil
		}
		return t.Path
	case map[string]any:
		return nativeFirestore(t)
	case []any:
		for i, e := range t {
			t[i] = nativeFirestoreValue(e)
		}
		return t
	}
	return v
}

type firestoreWatch struct {
	it      *firestore.QuerySnapshotIterator
	cancel  context.CancelFunc
	batches chan []Change
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// run pulls snapshots off the listener until it fails or is stopped.
func (w *firestoreWatch) run() {
	defer close(w.batches)
	for {
		qs, err := w.it.Next()
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}
		batch := make([]Change, 0, len(qs.Changes))
		for _, dc := range qs.Changes {
			d, err := fromSnapshot(dc.Doc)
			if err != nil {
				w.mu.Lock()
				w.err = err
				w.mu.Unlock()
				return
			}
			batch = append(batch, Change{Kind: changeKind(dc.Kind), Doc: d})
		}
		if len(batch) == 0 {
			continue
		}
		select {
		case w.batches <- batch:
		case <-w.done:
			return
		}
	}
}

func changeKind(k firestore.DocumentChangeKind) ChangeKind {
	switch k {
	case firestore.DocumentModified:
		return Modified
	case firestore.DocumentRemoved:
		return Removed
	default:
		return Added
	}
}

func (w *firestoreWatch) Next(ctx context.Context) ([]Change, error) {
	select {
	case batch, ok := <-w.batches:
		if ok {
			return batch, nil
		}
		select {
		case <-w.done:
			return nil, ErrClosed
		default:
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.err == nil {
			return nil, ErrClosed
		}
		return nil, w.err
	case <-w.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *firestoreWatch) Stop() {
	w.once.Do(func() {
		close(w.done)
		w.cancel()
		w.it.Stop()
	})
}
