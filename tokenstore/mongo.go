package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ Store = &MongoStore{}

// MongoStore upserts one document per profile into the "session_tokens" collection.
type MongoStore struct {
	tokens  *mongo.Collection
	profile string
}

// NewMongoStore creates a store backed by the given DB.
func NewMongoStore(db *mongo.Database, profile string) *MongoStore {
	if profile == "" {
		profile = "default"
	}
	return &MongoStore{
		tokens:  db.Collection("session_tokens"),
		profile: profile,
	}
}

// Save upserts the profile's token.
func (s *MongoStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return s.Clear(ctx)
	}
	filter := bson.M{"profile": s.profile, "key": DefaultKey}
	upd := bson.M{"$set": bson.M{
		"token":      token,
		"updated_at": time.Now().UTC(),
	}}
	opts := options.Update().SetUpsert(true)
	if _, err := s.tokens.UpdateOne(ctx, filter, upd, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Read retrieves the stored token, "" when there is none.
func (s *MongoStore) Read(ctx context.Context) (string, error) {
	var doc struct {
		Token string `bson:"token"`
	}
	err := s.tokens.FindOne(ctx, bson.M{"profile": s.profile, "key": DefaultKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return doc.Token, nil
}

// Clear removes the stored token.
func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.tokens.DeleteOne(ctx, bson.M{"profile": s.profile, "key": DefaultKey}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
