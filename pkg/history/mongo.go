package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const documentValidationFailure = 121

// MongoStore writes history documents with a journaled write concern so a flush
// only returns once the records are on disk.
type MongoStore struct {
	collection *mongo.Collection

	mutex  sync.Mutex
	buffer []Record
}

func NewMongoStore(database *mongo.Database, collection string) *MongoStore {
	return &MongoStore{
		collection: database.Collection(collection, options.Collection().SetWriteConcern(writeconcern.Journaled())),
	}
}

func (s *MongoStore) Append(_ context.Context, record Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.buffer = append(s.buffer, record)

	return nil
}

func (s *MongoStore) Flush(ctx context.Context) error {
	s.mutex.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mutex.Unlock()

	if len(pending) == 0 {
		return nil
	}

	documents := make([]interface{}, 0, len(pending))
	for _, record := range pending {
		documents = append(documents, record)
	}

	_, err := s.collection.InsertMany(ctx, documents, options.InsertMany().SetOrdered(true))
	if err != nil {
		if isMongoConstraint(err) {
			return fmt.Errorf("%w: %w", ErrConstraintViolation, err)
		}
		return err
	}

	return nil
}

func isMongoConstraint(err error) bool {
	if mongo.IsDuplicateKeyError(err) {
		return true
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		for _, writeErr := range bulkErr.WriteErrors {
			if writeErr.Code == documentValidationFailure {
				return true
			}
		}
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		for _, e := range writeErr.WriteErrors {
			if e.Code == documentValidationFailure {
				return true
			}
		}
	}

	return false
}

func (s *MongoStore) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	query := bson.M{}
	if filter.VehicleID != "" {
		query["vehicle_id"] = filter.VehicleID
	}
	if filter.FeedID != "" {
		query["feed_id"] = filter.FeedID
	}
	if filter.AgencyID != "" {
		query["agency_id"] = filter.AgencyID
	}

	observed := bson.M{}
	if !filter.From.IsZero() {
		observed["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		observed["$lt"] = filter.To
	}
	if len(observed) > 0 {
		query["observed_at"] = observed
	}

	opts := options.Find().SetSort(bson.D{{Key: "observed_at", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	for i := range records {
		records[i].Timestamp = records[i].Timestamp.UTC()
		records[i].IngestedAt = records[i].IngestedAt.UTC()
	}

	return records, nil
}

func (s *MongoStore) Close() error {
	return s.collection.Database().Client().Disconnect(context.Background())
}
