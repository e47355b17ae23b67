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

// MongoDB names for the raw-page archive
const (
	MongoDBName             = "policy_kline"
	MongoRawPagesCollection = "raw_pages"
)

// rawPageRetention controls how long page snapshots are kept.
const rawPageRetention = 90 * 24 * time.Hour

// ArchiveService stores raw scraped page snapshots in MongoDB so parses can
// be replayed without refetching. The service degrades to a no-op when
// MONGODB_URI is unset.
type ArchiveService struct {
	client      *mongo.Client
	database    *mongo.Database
	mu          sync.RWMutex
	isConnected bool
	uriSet      bool
	lastError   string
}

// rawPageDoc is one archived page snapshot.
type rawPageDoc struct {
	Source    string    `bson:"source"`
	URL       string    `bson:"url"`
	Body      []byte    `bson:"body"`
	FetchedAt time.Time `bson:"fetched_at"`
}

// GlobalArchive is the process-wide archive instance.
var GlobalArchive *ArchiveService

// InitArchive initializes the raw-page archive. An empty URI disables it.
func InitArchive(mongoURI string) error {
	if mongoURI == "" {
		log.Println("MONGODB_URI not set, raw page archive disabled")
		GlobalArchive = &ArchiveService{
			uriSet:    false,
			lastError: "MONGODB_URI environment variable not set",
		}
		return nil
	}

	GlobalArchive = &ArchiveService{uriSet: true}
	return GlobalArchive.connect(mongoURI)
}

func (a *ArchiveService) connect(mongoURI string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(mongoURI).
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
		log.Printf("Failed to connect to MongoDB: %v", err)
		return err
	}

	if err := client.Ping(ctx, nil); err != nil {
		a.lastError = fmt.Sprintf("Failed to ping: %v", err)
		log.Printf("Failed to ping MongoDB: %v", err)
		client.Disconnect(ctx)
		return err
	}

	a.mu.Lock()
	a.client = client
	a.database = client.Database(MongoDBName)
	a.isConnected = true
	a.lastError = ""
	a.mu.Unlock()

	a.createIndexes()
	log.Println("MongoDB raw page archive connected")
	return nil
}

func (a *ArchiveService) createIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	collection := a.database.Collection(MongoRawPagesCollection)
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "fetched_at", Value: -1}},
	})
	collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "source", Value: 1}, {Key: "url", Value: 1}},
	})
}

// IsConfigured reports whether the archive is connected.
func (a *ArchiveService) IsConfigured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isConnected
}

// GetConnectionStatus returns detailed connection status for health checks.
func (a *ArchiveService) GetConnectionStatus() map[string]interface{} {
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

// Close disconnects from MongoDB.
func (a *ArchiveService) Close() error {
	if a.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.client.Disconnect(ctx)
	}
	return nil
}

// SavePage archives one fetched page. Archiving is best-effort: failures are
// logged and never propagate into the scrape.
func (a *ArchiveService) SavePage(ctx context.Context, source, url string, body []byte) {
	if !a.IsConfigured() {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	doc := rawPageDoc{
		Source:    source,
		URL:       url,
		Body:      body,
		FetchedAt: time.Now(),
	}

	collection := a.database.Collection(MongoRawPagesCollection)
	if _, err := collection.InsertOne(opCtx, doc); err != nil {
		log.Printf("Failed to archive page %s: %v", url, err)
	}
}

// PruneOldPages drops snapshots past the retention window; the scheduler runs
// this weekly.
func (a *ArchiveService) PruneOldPages(ctx context.Context) (int64, error) {
	if !a.IsConfigured() {
		return 0, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-rawPageRetention)
	collection := a.database.Collection(MongoRawPagesCollection)
	result, err := collection.DeleteMany(opCtx, bson.M{"fetched_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune archived pages: %w", err)
	}
	if result.DeletedCount > 0 {
		log.Printf("Pruned %d archived pages older than %s", result.DeletedCount, cutoff.Format("2006-01-02"))
	}
	return result.DeletedCount, nil
}

// PageCount returns the number of archived pages.
func (a *ArchiveService) PageCount(ctx context.Context) (int64, error) {
	if !a.IsConfigured() {
		return 0, fmt.Errorf("archive not configured")
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.database.Collection(MongoRawPagesCollection).CountDocuments(opCtx, bson.M{})
}
