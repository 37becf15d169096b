package services

import (
	"context"
	"fmt"
	"time"

	"feedwatch/config"
	"feedwatch/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FirebaseStatusSource reads dog_feed_status from the Realtime Database
// the feeder writes to.
type FirebaseStatusSource struct {
	client *db.Client
	path   string
	loc    *time.Location
	logger *zap.Logger
}

func NewFirebaseStatusSource(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zap.Logger) (*FirebaseStatusSource, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	var opts []option.ClientOption
	if cfg.FirebaseServiceAccountJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON)))
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	logger.Info("Firebase status source ready",
		zap.String("database_url", cfg.FirebaseDbUrl),
		zap.String("path", cfg.FirebaseStatusPath))

	return &FirebaseStatusSource{
		client: client,
		path:   cfg.FirebaseStatusPath,
		loc:    loc,
		logger: logger,
	}, nil
}

func (fs *FirebaseStatusSource) Fetch(ctx context.Context) (models.StatusPayload, error) {
	var doc statusDocument
	if err := fs.client.NewRef(fs.path).Get(ctx, &doc); err != nil {
		return models.StatusPayload{}, fmt.Errorf("error getting feed status: %w", err)
	}

	payload, err := doc.payload(fs.loc)
	if err != nil {
		return models.StatusPayload{}, fmt.Errorf("firebase %s: %w", fs.path, err)
	}
	return payload, nil
}
