package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

type userDocument struct {
	ID        bson.ObjectID `bson:"_id"`
	AuthID    string        `bson:"auth_id"`
	Email     string        `bson:"email"`
	Name      string        `bson:"name,omitempty"`
	IsActive  bool          `bson:"is_active"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

func (d *userDocument) toUser() *interfaces.User {
	return &interfaces.User{
		ID:        d.ID.Hex(),
		AuthID:    d.AuthID,
		Email:     d.Email,
		Name:      d.Name,
		IsActive:  d.IsActive,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// CreateUser inserts a profile; the unique auth_id index rejects duplicates
func (s *MongoStore) CreateUser(ctx context.Context, in *interfaces.UserCreate) (*interfaces.User, error) {
	now := time.Now().UTC()
	doc := &userDocument{
		ID:        bson.NewObjectID(),
		AuthID:    in.AuthID,
		Email:     in.Email,
		Name:      in.Name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, interfaces.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return doc.toUser(), nil
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*interfaces.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, interfaces.ErrUserNotFound
	}
	return s.findUser(ctx, bson.M{"_id": oid})
}

func (s *MongoStore) GetUserByAuthID(ctx context.Context, authID string) (*interfaces.User, error) {
	return s.findUser(ctx, bson.M{"auth_id": authID})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*interfaces.User, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return doc.toUser(), nil
}

func (s *MongoStore) UpdateUser(ctx context.Context, id string, u *interfaces.UserUpdate) (*interfaces.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, interfaces.ErrUserNotFound
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if u.Email != nil {
		set["email"] = *u.Email
	}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.IsActive != nil {
		set["is_active"] = *u.IsActive
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDocument
	err = s.users.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return doc.toUser(), nil
}

// ListUsers pages through profiles in registration order
func (s *MongoStore) ListUsers(ctx context.Context, skip, limit int) ([]*interfaces.User, error) {
	skip, limit = pageBounds(skip, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	users := make([]*interfaces.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toUser())
	}
	return users, nil
}
