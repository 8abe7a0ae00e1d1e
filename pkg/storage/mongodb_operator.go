package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rupali59/docbridge/pkg/query"
	"github.com/Rupali59/docbridge/pkg/value"
)

// MongoConfig holds what is needed to reach a MongoDB deployment. Change
// streams (Watch) require a replica set or sharded cluster.
type MongoConfig struct {
	URI      string
	Database string
	Username string
	Password string
}

// LoadMongoCredentials reads a dotenv-style credentials file holding
// MONGODB_URI and optionally MONGODB_USERNAME / MONGODB_PASSWORD.
func LoadMongoCredentials(path, database string) (MongoConfig, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return MongoConfig{}, fmt.Errorf("failed to read mongodb credentials %s: %w", path, err)
	}
	cfg := MongoConfig{
		URI:      env["MONGODB_URI"],
		Database: database,
		Username: env["MONGODB_USERNAME"],
		Password: env["MONGODB_PASSWORD"],
	}
	if cfg.URI == "" {
		return MongoConfig{}, fmt.Errorf("mongodb credentials %s: MONGODB_URI is not set", path)
	}
	return cfg, nil
}

// MongoOperator is a MongoDB implementation of Store. Documents are keyed by
// string ids stored in _id.
type MongoOperator struct {
	client   *mongo.Client
	database *mongo.Database
}

// NewMongoOperator connects and pings the deployment.
func NewMongoOperator(ctx context.Context, cfg MongoConfig) (*MongoOperator, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoOperator{
		client:   client,
		database: client.Database(cfg.Database),
	}, nil
}

func (m *MongoOperator) Create(ctx context.Context, collection string, doc value.Map) (string, error) {
	id := primitive.NewObjectID().Hex()
	if _, err := m.database.Collection(collection).InsertOne(ctx, toBSON(id, doc)); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MongoOperator) NewID(ctx context.Context, collection string) (string, error) {
	return primitive.NewObjectID().Hex(), nil
}

func (m *MongoOperator) Set(ctx context.Context, collection, id string, doc value.Map) error {
	opts := options.Replace().SetUpsert(true)
	_, err := m.database.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, toBSON(id, doc), opts)
	return err
}

func (m *MongoOperator) Update(ctx context.Context, collection, id string, doc value.Map) error {
	res, err := m.database.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, toBSON(id, doc))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return nil
}

func (m *MongoOperator) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := m.database.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, err
	}
	return fromBSON(raw)
}

// Delete removes the document. Missing documents are not an error.
func (m *MongoOperator) Delete(ctx context.Context, collection, id string) error {
	_, err := m.database.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (m *MongoOperator) Find(ctx context.Context, plan *query.Plan) ([]Document, error) {
	filter, opts := MongoFind(plan)
	cursor, err := m.database.Collection(plan.Collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cursor.All(ctx, &raws); err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		d, err := fromBSON(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Watch opens a change stream before reading the initial snapshot so no write
// in between is lost. Membership of the result set is tracked client-side:
// updates that move a document out of the query produce Removed.
func (m *MongoOperator) Watch(ctx context.Context, plan *query.Plan) (ChangeIterator, error) {
	coll := m.database.Collection(plan.Collection)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{
			"insert", "update", "replace", "delete", "drop", "invalidate",
		}}}}}}},
	}
	stream, err := coll.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream on %s: %w", plan.Collection, err)
	}

	initial, err := m.Find(ctx, &query.Plan{Collection: plan.Collection, Clauses: plan.Clauses})
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}

	w := &mongoWatch{plan: plan, stream: stream, members: make(map[string]struct{}, len(initial))}
	for _, d := range initial {
		w.members[d.ID] = struct{}{}
		w.initial = append(w.initial, Change{Kind: Added, Doc: d})
	}
	return w, nil
}

func (m *MongoOperator) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoOperator) Close(ctx context.Context) error {
	if m.client != nil {
		return m.client.Disconnect(ctx)
	}
	return nil
}

// MongoFind translates a plan into a filter and find options. Clauses are
// joined with $and in plan order; results are sorted by _id so offsets are
// stable.
func MongoFind(plan *query.Plan) (bson.D, *options.FindOptions) {
	q := query.Fold[*mongoQuery](plan, &mongoQuery{opts: options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})}, mongoFolder{})
	if len(q.clauses) == 0 {
		return bson.D{}, q.opts
	}
	return bson.D{{Key: "$and", Value: q.clauses}}, q.opts
}

type mongoQuery struct {
	clauses bson.A
	opts    *options.FindOptions
}

type mongoFolder struct{}

func (mongoFolder) Limit(q *mongoQuery, n int) *mongoQuery {
	q.opts.SetLimit(int64(n))
	return q
}

func (mongoFolder) Offset(q *mongoQuery, n int) *mongoQuery {
	q.opts.SetSkip(int64(n))
	return q
}

func (mongoFolder) Where(q *mongoQuery, c query.Clause) *mongoQuery {
	v := c.Value.Native()
	var cond bson.D
	switch c.Op {
	case query.OpEqual:
		cond = bson.D{{Key: "$eq", Value: v}}
	case query.OpArrayContains:
		cond = bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: v}}}}
	case query.OpGreaterThan:
		cond = bson.D{{Key: "$gt", Value: v}}
	case query.OpLessThan:
		cond = bson.D{{Key: "$lt", Value: v}}
	}
	q.clauses = append(q.clauses, bson.D{{Key: c.Field, Value: cond}})
	return q
}

func toBSON(id string, doc value.Map) bson.M {
	out := bson.M(doc.NativeMap())
	out["_id"] = id
	return out
}

func fromBSON(raw bson.M) (Document, error) {
	id := idString(raw["_id"])
	delete(raw, "_id")
	native, err := nativeBSON(map[string]any(raw))
	if err != nil {
		return Document{}, err
	}
	data, err := value.FromMap(native.(map[string]any))
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: data}, nil
}

// nativeBSON rewrites driver types into plain Go data value.From accepts.
func nativeBSON(v any) (any, error) {
	switch t := v.(type) {
	case primitive.D:
		return nativeBSON(map[string]any(t.Map()))
	case primitive.M:
		return nativeBSON(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			n, err := nativeBSON(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case primitive.A:
		return nativeBSON([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := nativeBSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case primitive.ObjectID:
		return t.Hex(), nil
	case primitive.DateTime:
		return t.Time(), nil
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0), nil
	case primitive.Decimal128:
		return t.String(), nil
	case primitive.Binary:
		return t.Data, nil
	case primitive.Null, primitive.Undefined:
		return nil, nil
	}
	return v, nil
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

type mongoWatch struct {
	plan    *query.Plan
	stream  *mongo.ChangeStream
	initial []Change
	members map[string]struct{}
	once    sync.Once
	stopped bool
}

func (w *mongoWatch) Next(ctx context.Context) ([]Change, error) {
	if w.stopped {
		return nil, ErrClosed
	}
	if w.initial != nil {
		batch := w.initial
		w.initial = nil
		return batch, nil
	}
	for {
		if !w.stream.Next(ctx) {
			if err := w.stream.Err(); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrClosed
		}
		var ev changeEvent
		if err := w.stream.Decode(&ev); err != nil {
			return nil, fmt.Errorf("failed to decode change event: %w", err)
		}
		if c, ok, err := w.apply(ev); err != nil {
			return nil, err
		} else if ok {
			return []Change{c}, nil
		}
	}
}

func (w *mongoWatch) apply(ev changeEvent) (Change, bool, error) {
	id := idString(ev.DocumentKey.ID)
	_, member := w.members[id]

	switch ev.OperationType {
	case "insert", "update", "replace":
		if ev.FullDocument == nil {
			// Deleted before the update lookup ran.
			if !member {
				return Change{}, false, nil
			}
			delete(w.members, id)
			return Change{Kind: Removed, Doc: Document{ID: id, Data: value.Map{}}}, true, nil
		}
		doc, err := fromBSON(ev.FullDocument)
		if err != nil {
			return Change{}, false, err
		}
		matches := w.plan.Matches(doc.Data)
		switch {
		case matches && member:
			return Change{Kind: Modified, Doc: doc}, true, nil
		case matches:
			w.members[id] = struct{}{}
			return Change{Kind: Added, Doc: doc}, true, nil
		case member:
			delete(w.members, id)
			return Change{Kind: Removed, Doc: doc}, true, nil
		}
		return Change{}, false, nil
	case "delete":
		if !member {
			return Change{}, false, nil
		}
		delete(w.members, id)
		return Change{Kind: Removed, Doc: Document{ID: id, Data: value.Map{}}}, true, nil
	default:
		return Change{}, false, fmt.Errorf("change stream on %s ended: %s", w.plan.Collection, ev.OperationType)
	}
}

func (w *mongoWatch) Stop() {
	w.once.Do(func() {
		w.stopped = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.stream.Close(ctx)
	})
}
