package mongodb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aanfarhan/sso-sync/domain"
	"github.com/aanfarhan/sso-sync/errors"
)

// UserStore implements domain.LocalUserStore on MongoDB.
type UserStore struct {
	db    *mongo.Database
	users *mongo.Collection
	// knownColumns supplements schema detection for columns that may be
	// absent from the sampled document.
	knownColumns []string
}

// NewUserStore creates a Mongo-backed local user store. knownColumns
// lists host columns that schema sampling may miss (sparse columns).
func NewUserStore(ctx context.Context, db *mongo.Database, collection string, knownColumns []string) (*UserStore, error) {
	if collection == "" {
		collection = UsersCollection
	}
	store := &UserStore{
		db:           db,
		users:        db.Collection(collection),
		knownColumns: knownColumns,
	}
	if err := store.createIndexes(ctx); err != nil {
		// Existing compatible indexes are the common cause; not fatal.
		log.Warn().Err(err).Msg("failed to create user indexes")
	}
	return store, nil
}

func (s *UserStore) createIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&options.Collation{Locale: "en", Strength: 2}),
		},
		{
			Keys:    bson.D{{Key: "oauth_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := s.users.Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("failed to create indexes for %s: %w", s.users.Name(), err)
	}
	return nil
}

// FindByEmailOrOAuthID implements domain.LocalUserStore. (nil, nil)
// when nothing matches.
func (s *UserStore) FindByEmailOrOAuthID(ctx context.Context, email, oauthID string) (*domain.LocalUser, error) {
	var clauses bson.A
	if email != "" {
		clauses = append(clauses, bson.M{"email": email})
	}
	if oauthID != "" {
		clauses = append(clauses, bson.M{"oauth_id": oauthID})
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	var user domain.LocalUser
	err := s.users.FindOne(ctx, bson.M{"$or": clauses}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create implements domain.LocalUserStore. Duplicate keys surface as a
// data integrity error rather than crashing the run.
func (s *UserStore) Create(ctx context.Context, user *domain.LocalUser) error {
	if user.ID == "" {
		user.ID = NewObjectID()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := s.users.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.NewDataIntegrityError("user with this email or id already exists", err)
		}
		log.Error().Err(err).Str("email", user.Email).Msg("error creating local user")
		return err
	}
	return nil
}

// Update implements domain.LocalUserStore: one atomic $set per call, so
// a run interrupted between users never leaves a half-written record.
func (s *UserStore) Update(ctx context.Context, id string, fields map[string]any) error {
	set := bson.M{}
	for column, value := range fields {
		if column == domain.ColID {
			continue
		}
		set[column] = value
	}
	set["updated_at"] = time.Now().UTC()

	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.NewDataIntegrityError("update violates a unique constraint", err)
		}
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// Count implements domain.LocalUserStore.
func (s *UserStore) Count(ctx context.Context) (int64, error) {
	return s.users.CountDocuments(ctx, bson.M{})
}

// ChunkAll implements domain.LocalUserStore: a single cursor walked in
// batches of batchSize, fetched lazily to bound memory.
func (s *UserStore) ChunkAll(ctx context.Context, batchSize int, fn func(ctx context.Context, users []*domain.LocalUser) error) error {
	opts := options.Find().
		SetBatchSize(int32(batchSize)).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	batch := make([]*domain.LocalUser, 0, batchSize)
	for cursor.Next(ctx) {
		var user domain.LocalUser
		if err := cursor.Decode(&user); err != nil {
			return err
		}
		batch = append(batch, &user)
		if len(batch) == batchSize {
			if err := fn(ctx, batch); err != nil {
				return err
			}
			batch = make([]*domain.LocalUser, 0, batchSize)
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(ctx, batch)
	}
	return nil
}

// DistinctValues implements domain.LocalUserStore.
func (s *UserStore) DistinctValues(ctx context.Context, column string) ([]string, error) {
	raw, err := s.users.Distinct(ctx, column, bson.M{
		column: bson.M{"$nin": bson.A{nil, ""}},
	})
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(raw))
	for _, v := range raw {
		values = append(values, domain.ValueString(v))
	}
	sort.Strings(values)
	return values, nil
}

// Columns implements domain.LocalUserStore: the keys of a sampled
// document plus the configured known columns, with _id normalized to
// the engine's id column name.
func (s *UserStore) Columns(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var columns []string
	add := func(name string) {
		if name == "_id" {
			name = domain.ColID
		}
		if name != "" && !seen[name] {
			seen[name] = true
			columns = append(columns, name)
		}
	}

	var sample bson.M
	err := s.users.FindOne(ctx, bson.M{}).Decode(&sample)
	if err != nil && err != mongo.ErrNoDocuments {
		return nil, err
	}
	sampled := make([]string, 0, len(sample))
	for key := range sample {
		sampled = append(sampled, key)
	}
	sort.Strings(sampled)
	for _, key := range sampled {
		add(key)
	}
	for _, key := range s.knownColumns {
		add(key)
	}
	return columns, nil
}

var _ domain.LocalUserStore = (*UserStore)(nil)
