package database

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const VehiclePositionsCollection = "vehicle_positions"

// createCollections mirrors the SQL CHECK constraints with a schema validator so
// out of range rows are rejected by every history backend alike.
func createCollections(ctx context.Context) {
	validator := bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"vehicle_id", "latitude", "longitude", "observed_at"},
			"properties": bson.M{
				"vehicle_id":  bson.M{"bsonType": "string", "minLength": 1},
				"latitude":    bson.M{"bsonType": "double", "minimum": -90, "maximum": 90},
				"longitude":   bson.M{"bsonType": "double", "minimum": -180, "maximum": 180},
				"observed_at": bson.M{"bsonType": "date"},
			},
		},
	}

	err := MongoGlobalInstance.Database.CreateCollection(ctx, VehiclePositionsCollection, options.CreateCollection().SetValidator(validator))

	var commandErr mongo.CommandError
	if errors.As(err, &commandErr) && commandErr.Name == "NamespaceExists" {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Creating collection")
	}
}

func createIndexes() {
	createVehiclePositionsIndexes()
}

func createVehiclePositionsIndexes() {
	vehiclePositionsCollection := GetCollection(VehiclePositionsCollection)
	vehiclePositionsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "observed_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "feed_id", Value: 1}, {Key: "observed_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "ingested_at", Value: 1}},
		},
	}

	opts := options.CreateIndexes()
	_, err := vehiclePositionsCollection.Indexes().CreateMany(context.Background(), vehiclePositionsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
