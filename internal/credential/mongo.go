package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"otpauth/internal/models"
)

// MongoStore keeps accounts in the users collection, one document per email.
type MongoStore struct {
	col     *mongo.Collection
	timeout time.Duration
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col, timeout: 5 * time.Second}
}

// EnsureIndexes creates the unique email index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("users_email_unique").SetUnique(true),
	})
	return err
}

func (s *MongoStore) Get(ctx context.Context, email string) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var acct models.Account
	err := s.col.FindOne(ctx, bson.M{"email": key(email)}).Decode(&acct)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("find account: %w", err)
	}
	return acct, nil
}

func (s *MongoStore) Set(ctx context.Context, email string, acct models.Account) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acct.Email = key(email)
	_, err := s.col.ReplaceOne(ctx, bson.M{"email": acct.Email}, acct, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *MongoStore) Has(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.col.CountDocuments(ctx, bson.M{"email": key(email)}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) Delete(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.col.DeleteOne(ctx, bson.M{"email": key(email)})
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	return res.DeletedCount > 0, nil
}
