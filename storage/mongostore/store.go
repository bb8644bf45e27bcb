// Package mongostore implements the document store contract on MongoDB.
// Documents are upserted keyed by their path, which makes every write
// idempotent: replaying the same document is a no-op on the second apply.
package mongostore

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
	"github.com/CodeByJF/mqbridge/storage"
)

// Config holds MongoDB connection settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string
	// Database and Collection name the target namespace.
	Database   string
	Collection string
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Database == "" {
		c.Database = "mqbridge"
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

// storedDocument is the persisted shape. The path is the primary key.
type storedDocument struct {
	ID          string    `bson:"_id"`
	Content     bson.M    `bson:"content,omitempty"`
	RawContent  []byte    `bson:"raw_content,omitempty"`
	ContentType string    `bson:"content_type"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// Store writes documents to a single MongoDB collection.
type Store struct {
	cfg        Config
	logger     *slog.Logger
	client     *mongo.Client
	collection *mongo.Collection
}

// New creates an unconnected store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Store", "New", "store URI required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// Connect establishes the client and verifies the server is reachable.
func (s *Store) Connect(ctx context.Context) error {
	client, err := mongo.Connect(options.Client().
		ApplyURI(s.cfg.URI).
		SetConnectTimeout(s.cfg.ConnectTimeout))
	if err != nil {
		return classify(err, "Connect", "create client")
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return classify(err, "Connect", "ping server")
	}

	s.client = client
	s.collection = client.Database(s.cfg.Database).Collection(s.cfg.Collection)
	s.logger.Info("connected to document store",
		"database", s.cfg.Database, "collection", s.cfg.Collection)
	return nil
}

// Put upserts the document at its path. JSON content is stored as a
// queryable subdocument; anything else is kept as raw bytes.
func (s *Store) Put(ctx context.Context, doc message.Document) error {
	if s.collection == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Store", "Put", "check connection")
	}
	if doc.Path == "" {
		return errors.WrapFatal(errors.ErrInvalidPath, "Store", "Put", "empty document path")
	}

	stored := storedDocument{
		ID:          doc.Path,
		ContentType: doc.ContentType,
		UpdatedAt:   time.Now().UTC(),
	}

	if doc.ContentType == "application/json" {
		var content bson.M
		if err := bson.UnmarshalExtJSON(doc.Content, false, &content); err == nil {
			stored.Content = content
		}
	}
	if stored.Content == nil {
		stored.RawContent = doc.Content
	}

	_, err := s.collection.ReplaceOne(
		ctx,
		bson.M{"_id": doc.Path},
		stored,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return classify(err, "Put", "upsert document")
	}

	return nil
}

// Ping reports reachability of the server.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Store", "Ping", "check connection")
	}
	if err := s.client.Ping(ctx, nil); err != nil {
		return classify(err, "Ping", "ping server")
	}
	return nil
}

// Close disconnects the client. Safe on an unconnected store.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	client := s.client
	s.client = nil
	s.collection = nil
	if err := client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "Store", "Close", "disconnect")
	}
	return nil
}

// Fatal server error codes: document too large, unauthorized, auth failed
var fatalCodes = map[int]bool{
	2:     true, // BadValue
	13:    true, // Unauthorized
	18:    true, // AuthenticationFailed
	10334: true, // BSONObjectTooLarge
	17420: true, // document too large
}

// classify maps driver errors onto the bridge taxonomy: network and timeout
// failures are transient and worth retrying, permission and size failures
// are fatal and must not loop.
func classify(err error, method, action string) error {
	if err == nil {
		return nil
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return errors.WrapTransient(err, "Store", method, action)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.WrapTransient(err, "Store", method, action)
	}

	var cmdErr mongo.CommandError
	if stderrors.As(err, &cmdErr) {
		if fatalCodes[int(cmdErr.Code)] {
			return errors.WrapFatal(err, "Store", method, action)
		}
		if cmdErr.HasErrorLabel("RetryableWriteError") {
			return errors.WrapTransient(err, "Store", method, action)
		}
	}

	var writeErr mongo.WriteException
	if stderrors.As(err, &writeErr) {
		for _, we := range writeErr.WriteErrors {
			if fatalCodes[we.Code] {
				return errors.WrapFatal(err, "Store", method, action)
			}
		}
		if writeErr.HasErrorLabel("RetryableWriteError") {
			return errors.WrapTransient(err, "Store", method, action)
		}
	}

	// Unknown store errors default to transient so an unclassified outage
	// does not drop messages.
	return errors.WrapTransient(err, "Store", method, action)
}

var _ storage.DocumentStore = (*Store)(nil)
