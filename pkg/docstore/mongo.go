package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Default database and collection names.
const (
	DefaultMongoDatabase   = "collab_db"
	DefaultMongoCollection = "documents"
)

// MongoConfig locates the paragraph collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// MongoStore stores one document per paragraph, addressed by docId and paraId.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	owned      bool
}

// OpenMongo connects to MongoDB, verifies the connection and ensures the
// paragraph index exists.
func OpenMongo(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.Database == "" {
		cfg.Database = DefaultMongoDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("docstore: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("docstore: ping mongo: %w", err)
	}

	s := NewMongoStore(client.Database(cfg.Database).Collection(cfg.Collection))
	s.owned = true
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// NewMongoStore wraps an existing collection. Close does not disconnect the
// collection's client.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{
		client:     collection.Database().Client(),
		collection: collection,
	}
}

// EnsureIndexes creates the unique (docId, paraId) index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "docId", Value: 1}, {Key: "paraId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("docstore: create index: %w", err)
	}
	return nil
}

func paragraphFilter(docID, paraID string) bson.M {
	return bson.M{"docId": docID, "paraId": paraID}
}

func paragraphUpdate(p *Paragraph) bson.M {
	return bson.M{"$set": bson.M{
		"content":   p.Content,
		"updatedBy": p.UpdatedBy,
		"updatedAt": p.UpdatedAt,
	}}
}

func (s *MongoStore) GetParagraph(ctx context.Context, docID, paraID string) (*Paragraph, error) {
	if err := validateIDs(docID, paraID); err != nil {
		return nil, err
	}
	var p Paragraph
	err := s.collection.FindOne(ctx, paragraphFilter(docID, paraID)).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: find %s/%s: %w", docID, paraID, err)
	}
	return &p, nil
}

// SaveParagraph upserts, so a paragraph that was never stored is created.
func (s *MongoStore) SaveParagraph(ctx context.Context, p *Paragraph) error {
	if err := validateIDs(p.DocumentID, p.ParagraphID); err != nil {
		return err
	}
	stamp(p)
	_, err := s.collection.UpdateOne(ctx,
		paragraphFilter(p.DocumentID, p.ParagraphID),
		paragraphUpdate(p),
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("docstore: save %s/%s: %w", p.DocumentID, p.ParagraphID, err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}
