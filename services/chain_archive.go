package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB database and collection names
const (
	ChainArchiveDBName     = "options_archive"
	ChainArchiveCollection = "option_chains"
)

// ChainArchive stores raw option chain payloads in MongoDB Atlas so a
// scrape can be replayed or audited later. The archive is optional:
// without a URI every write is skipped and the scraper is unaffected.
type ChainArchive struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
	uri         string
}

// ChainDocument is an archived chain payload
type ChainDocument struct {
	ID         string    `bson:"_id"`
	RunLabel   string    `bson:"run_label"`
	Ticker     string    `bson:"ticker"`
	Expiration time.Time `bson:"expiration"`
	CapturedAt time.Time `bson:"captured_at"`
	CallCount  int       `bson:"call_count"`
	PutCount   int       `bson:"put_count"`
	Source     string    `bson:"source"`
	Payload    []byte    `bson:"payload"`
}

// NewChainArchive creates the archive. An empty URI disables it.
func NewChainArchive(uri string) *ChainArchive {
	if uri == "" {
		log.Println("MONGODB_URI not set, chain archive disabled")
		return &ChainArchive{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}
	}
	archive := &ChainArchive{
		uriSet: true,
		uri:    uri,
	}
	if err := archive.Connect(); err != nil {
		log.Printf("Chain archive unavailable, continuing without it: %v", err)
	}
	return archive
}

// Connect establishes the connection to MongoDB Atlas
func (a *ChainArchive) Connect() error {
	if a.uri == "" {
		a.lastError = "MONGODB_URI environment variable not set"
		return fmt.Errorf("%s", a.lastError)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(a.uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		a.lastError = fmt.Sprintf("Failed to connect: %v", err)
		log.Printf("Failed to connect to MongoDB Atlas: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		a.lastError = fmt.Sprintf("Failed to ping: %v", err)
		log.Printf("Failed to ping MongoDB Atlas: %v", err)
		client.Disconnect(ctx)
		return err
	}

	a.mu.Lock()
	a.client = client
	a.database = client.Database(ChainArchiveDBName)
	a.isConnected = true
	a.lastError = ""
	a.mu.Unlock()

	a.createIndexes()

	log.Println("Chain archive connected to MongoDB Atlas")
	return nil
}

// IsConfigured returns whether the archive is connected and usable
func (a *ChainArchive) IsConfigured() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// GetConnectionStatus returns detailed connection status
func (a *ChainArchive) GetConnectionStatus() map[string]interface{} {
	if a == nil {
		return map[string]interface{}{"uri_set": false, "connected": false}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	status := map[string]interface{}{
		"uri_set":   a.uriSet,
		"connected": a.isConnected,
	}
	if a.lastError != "" {
		status["error"] = a.lastError
	}
	return status
}

// Close closes the MongoDB connection
func (a *ChainArchive) Close() error {
	if a == nil || a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

func (a *ChainArchive) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := a.database.Collection(ChainArchiveCollection)
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ticker", Value: 1}, {Key: "captured_at", Value: -1}},
	})
}

// ArchiveChain upserts one raw chain payload keyed by run, ticker and
// expiration. Failures are the caller's to log; archiving never blocks
// a scrape.
func (a *ChainArchive) ArchiveChain(doc ChainDocument) error {
	if !a.IsConfigured() {
		return fmt.Errorf("chain archive not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc.ID = fmt.Sprintf("%s:%s:%s", doc.RunLabel, doc.Ticker, doc.Expiration.Format("2006-01-02"))

	collection := a.database.Collection(ChainArchiveCollection)
	opts := options.Replace().SetUpsert(true)

	_, err := collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to archive chain for %s: %w", doc.Ticker, err)
	}
	return nil
}

// ListArchivedChains returns archive metadata for a ticker, newest
// first, without the raw payloads.
func (a *ChainArchive) ListArchivedChains(ticker string, limit int) ([]ChainDocument, error) {
	if !a.IsConfigured() {
		return nil, fmt.Errorf("chain archive not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := a.database.Collection(ChainArchiveCollection)
	opts := options.Find().
		SetSort(bson.D{{Key: "captured_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"payload": 0})

	cursor, err := collection.Find(ctx, bson.M{"ticker": ticker}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain archive for %s: %w", ticker, err)
	}
	defer cursor.Close(ctx)

	var docs []ChainDocument
	for cursor.Next(ctx) {
		var doc ChainDocument
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// ArchiveCount returns the number of archived chain documents
func (a *ChainArchive) ArchiveCount() (int64, error) {
	if !a.IsConfigured() {
		return 0, fmt.Errorf("chain archive not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collection := a.database.Collection(ChainArchiveCollection)
	return collection.CountDocuments(ctx, bson.M{})
}
