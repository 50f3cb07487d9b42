package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockpulse/internal/logger"
	"blockpulse/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	alertsCollection   = "thresholds"
	failuresCollection = "email_failures"
)

// MongoStore keeps alerts in the thresholds collection of a MongoDB database.
type MongoStore struct {
	client   *mongo.Client
	alerts   *mongo.Collection
	failures *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:   client,
		alerts:   db.Collection(alertsCollection),
		failures: db.Collection(failuresCollection),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Log.Info("Database connection established",
		zap.String("driver", "mongo"),
		zap.String("database", dbName),
	)
	return s, nil
}

// EnsureIndexes enforces one alert per (user, coin).
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.alerts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "symbolId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_symbol_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if _, err := s.alerts.InsertOne(ctx, alert); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlertExists
		}
		logger.Log.Error("Failed to create alert in database",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *MongoStore) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetAlertByUserAndSymbol(ctx context.Context, userID, symbolID string) (*models.Alert, error) {
	return s.findOne(ctx, bson.M{"userId": userID, "symbolId": symbolID})
}

func (s *MongoStore) GetAlertsByUserID(ctx context.Context, userID string) ([]*models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return s.find(ctx, bson.M{"userId": userID}, opts)
}

func (s *MongoStore) GetAllAlerts(ctx context.Context) ([]*models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	return s.find(ctx, bson.M{}, opts)
}

func (s *MongoStore) UpdateAlert(ctx context.Context, id string, update AlertUpdate) error {
	set := update.bsonSet()
	if len(set) == 0 {
		return nil
	}
	return s.updateOne(ctx, id, bson.M{"$set": set})
}

func (s *MongoStore) TouchAlert(ctx context.Context, id string, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{"$set": bson.M{"updatedAt": at}})
}

func (s *MongoStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.alerts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		logger.Log.Error("Failed to delete alert", zap.String("alert_id", id), zap.Error(err))
		return err
	}
	if res.DeletedCount == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (s *MongoStore) InsertEmailFailure(ctx context.Context, failure *models.EmailFailure) error {
	if _, err := s.failures.InsertOne(ctx, failure); err != nil {
		logger.Log.Error("Failed to record email failure",
			zap.String("alert_id", failure.AlertID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*models.Alert, error) {
	var alert models.Alert
	if err := s.alerts.FindOne(ctx, filter).Decode(&alert); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return &alert, nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Alert, error) {
	cursor, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		logger.Log.Error("Failed to query alerts", zap.Error(err))
		return nil, err
	}
	defer cursor.Close(ctx)

	var alerts []*models.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (s *MongoStore) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := s.alerts.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		logger.Log.Error("Failed to update alert", zap.String("alert_id", id), zap.Error(err))
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// bsonSet maps the set fields onto document keys.
func (u AlertUpdate) bsonSet() bson.M {
	set := bson.M{}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Symbol != nil {
		set["symbol"] = *u.Symbol
	}
	if u.Logo != nil {
		set["logo"] = *u.Logo
	}
	if u.TargetPrice != nil {
		set["targetPrice"] = *u.TargetPrice
	}
	if u.PriceWhenAlertSet != nil {
		set["priceWhenAlertSet"] = *u.PriceWhenAlertSet
	}
	if u.AlertMode != nil {
		set["alertMode"] = string(*u.AlertMode)
	}
	if u.UpdatedAt != nil {
		set["updatedAt"] = *u.UpdatedAt
	}
	return set
}
