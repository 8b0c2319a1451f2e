package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/jwalitptl/healthbridge/internal/config"
	"github.com/jwalitptl/healthbridge/internal/model"
	"github.com/jwalitptl/healthbridge/internal/repository"
	apperrors "github.com/jwalitptl/healthbridge/pkg/errors"
)

const (
	uploadsCollection     = "raw_uploads"
	extractionsCollection = "extractions"
)

// Connect opens a client and verifies the server is reachable.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

type uploadDoc struct {
	DocumentID  string    `bson:"document_id"`
	Filename    string    `bson:"filename"`
	ContentType string    `bson:"content_type"`
	Size        int64     `bson:"size"`
	Data        []byte    `bson:"data"`
	UploadedAt  time.Time `bson:"uploaded_at"`
}

type extractionDoc struct {
	DocumentID string    `bson:"document_id"`
	Service    string    `bson:"service"`
	Response   string    `bson:"response"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toUploadDoc(u *model.RawUpload) uploadDoc {
	return uploadDoc{
		DocumentID:  u.DocumentID.String(),
		Filename:    u.Filename,
		ContentType: u.ContentType,
		Size:        u.Size,
		Data:        u.Data,
		UploadedAt:  u.UploadedAt,
	}
}

func (d uploadDoc) toModel() (*model.RawUpload, error) {
	id, err := uuid.Parse(d.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid stored document id %q: %w", d.DocumentID, err)
	}
	return &model.RawUpload{
		DocumentID:  id,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		Size:        d.Size,
		Data:        d.Data,
		UploadedAt:  d.UploadedAt,
	}, nil
}

type rawDocumentStore struct {
	uploads     *mongo.Collection
	extractions *mongo.Collection
}

// NewRawDocumentStore keeps the original upload bytes and every raw
// extractor response, keyed by document id.
func NewRawDocumentStore(ctx context.Context, client *mongo.Client, database string) (repository.RawDocumentStore, error) {
	db := client.Database(database)
	s := &rawDocumentStore{
		uploads:     db.Collection(uploadsCollection),
		extractions: db.Collection(extractionsCollection),
	}

	_, err := s.uploads.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "document_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upload index: %w", err)
	}
	_, err = s.extractions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction index: %w", err)
	}
	return s, nil
}

func (s *rawDocumentStore) SaveUpload(ctx context.Context, upload *model.RawUpload) error {
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = time.Now()
	}
	_, err := s.uploads.ReplaceOne(ctx,
		bson.M{"document_id": upload.DocumentID.String()},
		toUploadDoc(upload),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

func (s *rawDocumentStore) GetUpload(ctx context.Context, documentID uuid.UUID) (*model.RawUpload, error) {
	var doc uploadDoc
	err := s.uploads.FindOne(ctx, bson.M{"document_id": documentID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("raw upload", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return doc.toModel()
}

func (s *rawDocumentStore) DeleteUpload(ctx context.Context, documentID uuid.UUID) error {
	filter := bson.M{"document_id": documentID.String()}
	if _, err := s.uploads.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if _, err := s.extractions.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete extractions: %w", err)
	}
	return nil
}

func (s *rawDocumentStore) SaveExtraction(ctx context.Context, record *model.ExtractionRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := s.extractions.InsertOne(ctx, extractionDoc{
		DocumentID: record.DocumentID.String(),
		Service:    record.Service,
		Response:   record.Response,
		CreatedAt:  record.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}
