// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rbaliyan/calllog/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time check
var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	calls     *mongo.Collection
	statuses  *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", mapError(err))
	}

	s.db = s.client.Database(s.opts.database)
	s.calls = s.db.Collection(s.opts.callsCollection)
	s.statuses = s.db.Collection(s.opts.voicemailCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", mapError(err))
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB", "database", s.opts.database, "collection", s.opts.callsCollection)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{bson.E{Key: store.ColumnDate, Value: -1}}},
		{Keys: bson.D{
			bson.E{Key: store.ColumnType, Value: 1},
			bson.E{Key: store.ColumnDate, Value: -1},
		}},
		{Keys: bson.D{bson.E{Key: store.ColumnPhoneAccountID, Value: 1}}},
		{
			Keys: bson.D{bson.E{Key: store.ColumnNew, Value: 1}},
			Options: mongoopts.Index().
				SetPartialFilterExpression(bson.M{store.ColumnNew: int64(1)}),
		},
	}
	_, err := s.calls.Indexes().CreateMany(ctx, indexes)
	return err
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// QueryCalls returns matching calls, newest first.
func (s *Store) QueryCalls(ctx context.Context, p store.Predicate) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(p)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{
		bson.E{Key: store.ColumnDate, Value: -1},
		bson.E{Key: "_id", Value: -1},
	})
	if p.Limit() > 0 {
		findOpts.SetLimit(int64(p.Limit()))
	}

	cursor, err := s.calls.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find calls: %w", mapError(err))
	}
	defer cursor.Close(ctx)

	var docs []callDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode calls: %w", mapError(err))
	}

	rows := make([][]any, len(docs))
	for i := range docs {
		c := docs[i].toCall()
		rows[i] = c.Row(store.CallColumns)
	}
	return store.NewRows(store.CallColumns, rows), nil
}

// UpdateCalls applies u and returns the number of documents changed.
func (s *Store) UpdateCalls(ctx context.Context, u store.Update) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if err := u.Validate(); err != nil {
		return 0, err
	}
	filter, err := buildFilter(u.Where)
	if err != nil {
		return 0, err
	}
	set := bson.M{}
	for _, a := range u.Set {
		set[fieldName(a.Column)] = store.Normalize(a.Value)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	res, err := s.calls.UpdateMany(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return 0, fmt.Errorf("update calls: %w", mapError(err))
	}
	return res.ModifiedCount, nil
}

// QueryVoicemailStatus returns every voicemail source ordered by package.
func (s *Store) QueryVoicemailStatus(ctx context.Context) (store.ResultSet, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "_id", Value: 1}})
	cursor, err := s.statuses.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find voicemail status: %w", mapError(err))
	}
	defer cursor.Close(ctx)

	var docs []statusDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode voicemail status: %w", mapError(err))
	}
	rows := make([][]any, len(docs))
	for i := range docs {
		st := docs[i].toStatus()
		rows[i] = st.Row()
	}
	return store.NewRows(store.VoicemailStatusColumns, rows), nil
}

// InsertCalls adds calls.
func (s *Store) InsertCalls(ctx context.Context, calls []store.Call) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if len(calls) == 0 {
		return nil
	}
	docs := make([]any, len(calls))
	for i := range calls {
		c := calls[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		docs[i] = newCallDoc(&c)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if _, err := s.calls.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert calls: %w", mapError(err))
	}
	return nil
}

// UpsertVoicemailStatus replaces the status of each source package.
func (s *Store) UpsertVoicemailStatus(ctx context.Context, statuses []store.VoicemailStatus) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	for i := range statuses {
		doc := newStatusDoc(&statuses[i])
		_, err := s.statuses.ReplaceOne(ctx, bson.M{"_id": doc.SourcePackage}, doc,
			mongoopts.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("upsert voicemail status %s: %w", doc.SourcePackage, mapError(err))
		}
	}
	return nil
}
