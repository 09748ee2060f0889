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

const (
	colJobs  = "jobs"
	colUsers = "users"
)

type jobDocument struct {
	ID           bson.ObjectID  `bson:"_id"`
	OwnerID      string         `bson:"owner_id"`
	JobType      string         `bson:"job_type"`
	InputData    map[string]any `bson:"input_data"`
	Status       string         `bson:"status"`
	OutputData   map[string]any `bson:"output_data,omitempty"`
	ArtifactURL  string         `bson:"artifact_url,omitempty"`
	ErrorMessage string         `bson:"error_message,omitempty"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
	StartedAt    *time.Time     `bson:"started_at,omitempty"`
	CompletedAt  *time.Time     `bson:"completed_at,omitempty"`
}

func (d *jobDocument) toJob() *interfaces.Job {
	return &interfaces.Job{
		ID:           d.ID.Hex(),
		OwnerID:      d.OwnerID,
		JobType:      d.JobType,
		InputData:    d.InputData,
		Status:       interfaces.JobStatus(d.Status),
		OutputData:   d.OutputData,
		ArtifactURL:  d.ArtifactURL,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		StartedAt:    d.StartedAt,
		CompletedAt:  d.CompletedAt,
	}
}

// MongoStore keeps jobs as documents in a MongoDB collection
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	users  *mongo.Collection
}

// ConnectMongo opens a client and verifies it with a ping
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// NewMongoStore creates a store on database/jobs and database/users. The
// caller owns the client.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{
		client: client,
		col:    client.Database(database).Collection(colJobs),
		users:  client.Database(database).Collection(colUsers),
	}
}

// Migrate creates the list indexes and the unique auth_id index
func (s *MongoStore) Migrate(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}
	userModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "auth_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userModels); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}

// Ping checks connectivity
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Session starts a driver session; every call made through it is bound to
// that session until Close.
func (s *MongoStore) Session(_ context.Context) (interfaces.JobSession, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb session: %w", err)
	}
	return &mongoSession{store: s, sess: sess}, nil
}

// Create inserts a new PENDING job
func (s *MongoStore) Create(ctx context.Context, in *interfaces.JobCreate) (*interfaces.Job, error) {
	now := time.Now().UTC()
	doc := &jobDocument{
		ID:        bson.NewObjectID(),
		OwnerID:   in.OwnerID,
		JobType:   in.JobType,
		InputData: in.InputData,
		Status:    string(interfaces.StatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if doc.InputData == nil {
		doc.InputData = map[string]any{}
	}

	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return doc.toJob(), nil
}

// GetByID retrieves a job by its hex object id
func (s *MongoStore) GetByID(ctx context.Context, id string) (*interfaces.Job, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, interfaces.ErrJobNotFound
	}

	var doc jobDocument
	if err := s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return doc.toJob(), nil
}

// GetByOwner lists an owner's jobs, newest first
func (s *MongoStore) GetByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error) {
	return s.find(ctx, bson.M{"owner_id": ownerID}, skip, limit)
}

// GetByStatus lists jobs in a status, newest first
func (s *MongoStore) GetByStatus(ctx context.Context, status interfaces.JobStatus, skip, limit int) ([]*interfaces.Job, error) {
	return s.find(ctx, bson.M{"status": string(status)}, skip, limit)
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, skip, limit int) ([]*interfaces.Job, error) {
	skip, limit = pageBounds(skip, limit)
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(skip))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}

	jobs := make([]*interfaces.Job, 0, len(docs))
	for i := range docs {
		jobs = append(jobs, docs[i].toJob())
	}
	return jobs, nil
}

// Update applies the non-nil fields of u and always refreshes updated_at
func (s *MongoStore) Update(ctx context.Context, id string, u *interfaces.JobUpdate) (*interfaces.Job, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, interfaces.ErrJobNotFound
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.OutputData != nil {
		set["output_data"] = u.OutputData
	}
	if u.ArtifactURL != nil {
		set["artifact_url"] = *u.ArtifactURL
	}
	if u.ErrorMessage != nil {
		set["error_message"] = *u.ErrorMessage
	}
	if u.StartedAt != nil {
		set["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		set["completed_at"] = *u.CompletedAt
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc jobDocument
	err = s.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	return doc.toJob(), nil
}

// Delete removes a job and reports whether it existed
func (s *MongoStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	return res.DeletedCount > 0, nil
}

type mongoSession struct {
	store *MongoStore
	sess  *mongo.Session
}

func (m *mongoSession) bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, m.sess)
}

func (m *mongoSession) Create(ctx context.Context, in *interfaces.JobCreate) (*interfaces.Job, error) {
	return m.store.Create(m.bind(ctx), in)
}

func (m *mongoSession) GetByID(ctx context.Context, id string) (*interfaces.Job, error) {
	return m.store.GetByID(m.bind(ctx), id)
}

func (m *mongoSession) GetByOwner(ctx context.Context, ownerID string, skip, limit int) ([]*interfaces.Job, error) {
	return m.store.GetByOwner(m.bind(ctx), ownerID, skip, limit)
}

func (m *mongoSession) GetByStatus(ctx context.Context, status interfaces.JobStatus, skip, limit int) ([]*interfaces.Job, error) {
	return m.store.GetByStatus(m.bind(ctx), status, skip, limit)
}

func (m *mongoSession) Update(ctx context.Context, id string, u *interfaces.JobUpdate) (*interfaces.Job, error) {
	return m.store.Update(m.bind(ctx), id, u)
}

func (m *mongoSession) Delete(ctx context.Context, id string) (bool, error) {
	return m.store.Delete(m.bind(ctx), id)
}

func (m *mongoSession) Close() error {
	m.sess.EndSession(context.Background())
	return nil
}
