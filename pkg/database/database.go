package database

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/travigo/vehiclefeed/pkg/util"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "vehiclefeed"

func ConnectMongoDB() error {
	connectionString := util.GetEnvString("VEHICLEFEED_MONGODB_CONNECTION", defaultMongoConnectionString)
	dbName := util.GetEnvString("VEHICLEFEED_MONGODB_DATABASE", defaultMongoDatabase)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	database := client.Database(dbName)

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: database,
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return err
	}

	log.Info().Str("database", dbName).Msg("Connected to MongoDB")

	createCollections(ctx)
	createIndexes()

	return nil
}

func GetCollection(collectionName string, opts ...*options.CollectionOptions) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName, opts...)
}
