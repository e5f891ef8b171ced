package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/internal/config"
)

const connectTimeout = 10 * time.Second

// Client holds the connection and the database that stores pairings
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects to cfg.URI, verifies the primary is reachable and
// ensures the pairings index. Writes are acknowledged by a majority.
func NewClient(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*Client, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("cprlink-server").
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(connectTimeout)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB primary: %w", err)
	}

	c := &Client{
		Client:   client,
		Database: client.Database(cfg.Database),
		logger:   logger,
	}
	if err := c.ensureIndexes(ctx, cfg.Collection); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))
	return c, nil
}

// ensureIndexes indexes pairings by status, newest first
func (c *Client) ensureIndexes(ctx context.Context, collection string) error {
	if collection == "" {
		collection = DefaultCollection
	}
	_, err := c.Database.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "lastUpdated", Value: -1}},
		Options: options.Index().SetName("status_lastUpdated"),
	})
	if err != nil {
		return fmt.Errorf("failed to create pairings index: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
