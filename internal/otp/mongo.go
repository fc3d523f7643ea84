package otp

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"otpauth/internal/models"
)

// MongoStore is a RecordStore over a MongoDB collection. A TTL index on
// expires_at lets the server delete records once they expire.
type MongoStore struct {
	col *mongo.Collection
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

// EnsureIndexes creates the TTL index and the unique (email, purpose) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("otp_expiry_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "purpose", Value: 1}},
			Options: options.Index().SetName("otp_email_purpose").SetUnique(true),
		},
	})
	return err
}

func (s *MongoStore) Find(ctx context.Context, email, purpose string) (models.OneTimeCode, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec models.OneTimeCode
	err := s.col.FindOne(ctx, bson.M{"email": email, "purpose": purpose}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.OneTimeCode{}, ErrRecordNotFound
	}
	if err != nil {
		return models.OneTimeCode{}, err
	}
	return rec, nil
}

func (s *MongoStore) Replace(ctx context.Context, rec models.OneTimeCode) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.col.ReplaceOne(ctx,
		bson.M{"email": rec.Email, "purpose": rec.Purpose},
		rec,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) Update(ctx context.Context, rec models.OneTimeCode) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{
		"attempt_count": rec.AttemptCount,
		"verified":      rec.Verified,
		"consumed":      rec.Consumed,
	}
	if rec.VerifiedAt != nil {
		set["verified_at"] = *rec.VerifiedAt
	}
	res, err := s.col.UpdateOne(ctx,
		bson.M{"email": rec.Email, "purpose": rec.Purpose, "code_hash": rec.CodeHash},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, rec models.OneTimeCode) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.col.DeleteOne(ctx, bson.M{"email": rec.Email, "purpose": rec.Purpose, "code_hash": rec.CodeHash})
	return err
}

func (s *MongoStore) DeleteAll(ctx context.Context, email string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.col.DeleteMany(ctx, bson.M{"email": email})
	return err
}
