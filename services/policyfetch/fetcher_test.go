package policyfetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"policy_kline_backend/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// a second :memory: connection would be a different database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.MigrateEventModels(db))
	return db
}

const listPage = `<html><body><ul>
	<li><a href="/zhengce/content/2025-07/25/content_1.htm">国务院关于促进制造业高质量发展的意见</a></li>
	<li><a href="/zhengce/content/2025-07/24/content_2.htm">财政部关于延续实施小微企业减税政策的公告</a></li>
</ul></body></html>`

func testSource(serverURL string, maxPages int) Source {
	return Source{
		Name:       "test-source",
		Department: "国务院",
		MaxPages:   maxPages,
		PageURL: func(page int) string {
			return fmt.Sprintf("%s/list_%d.htm", serverURL, page)
		},
	}
}

func TestFetchAllStoresClassifiedEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list_0.htm" {
			assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
			w.Write([]byte(listPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	db := newTestDB(t)
	fetcher := NewFetcher(db).WithSources([]Source{testSource(server.URL, 1)})

	count, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var events []models.PolicyEvent
	require.NoError(t, db.Order("date desc").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "2025-07-25", events[0].Date)
	assert.Equal(t, "产业政策", events[0].EventType)
	assert.Equal(t, "国家级", events[0].PolicyLevel)
	assert.Equal(t, "财政部", events[1].Department)
	assert.Equal(t, "财政政策", events[1].EventType)

	var logEntry models.FetchLog
	require.NoError(t, db.Where("source_name = ?", "test-source").First(&logEntry).Error)
	assert.Equal(t, "success", logEntry.FetchStatus)
	assert.Equal(t, 2, logEntry.RecordsFetched)
}

func TestFetchAllDeduplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list_0.htm" {
			w.Write([]byte(listPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	db := newTestDB(t)
	fetcher := NewFetcher(db).WithSources([]Source{testSource(server.URL, 1)})

	count, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// clear the throttle so the second run actually fetches
	require.NoError(t, db.Where("1 = 1").Delete(&models.FetchLog{}).Error)

	count, err = fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	var total int64
	db.Model(&models.PolicyEvent{}).Count(&total)
	assert.Equal(t, int64(2), total)
}

func TestFetchAllThrottles(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.NotFound(w, r)
	}))
	defer server.Close()

	db := newTestDB(t)
	require.NoError(t, db.Create(&models.FetchLog{
		SourceName:    "test-source",
		LastFetchTime: time.Now().Add(-time.Minute),
		FetchStatus:   "success",
	}).Error)

	fetcher := NewFetcher(db).WithSources([]Source{testSource(server.URL, 1)})
	count, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, hits)
}

func TestFetchAllPaginationStopsOn404(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/list_0.htm" {
			w.Write([]byte(listPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	db := newTestDB(t)
	fetcher := NewFetcher(db).WithSources([]Source{testSource(server.URL, 5)})

	_, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)

	// page 1 comes back 404 and pages 2-4 are never requested
	assert.Equal(t, []string{"/list_0.htm", "/list_1.htm"}, paths)
}

func TestFetchAllRecordsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	db := newTestDB(t)
	fetcher := NewFetcher(db).WithSources([]Source{testSource(server.URL, 1)})

	_, err := fetcher.FetchAll(context.Background())
	require.Error(t, err)

	var logEntry models.FetchLog
	require.NoError(t, db.Where("source_name = ?", "test-source").First(&logEntry).Error)
	assert.Equal(t, "error", logEntry.FetchStatus)
	assert.Contains(t, logEntry.ErrorMessage, "500")
}

type recordingArchiver struct {
	pages []string
}

func (a *recordingArchiver) SavePage(_ context.Context, _, url string, _ []byte) {
	a.pages = append(a.pages, url)
}

func TestFetchAllArchivesRawPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/list_0.htm" {
			w.Write([]byte(listPage))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	db := newTestDB(t)
	archiver := &recordingArchiver{}
	fetcher := NewFetcher(db).
		WithSources([]Source{testSource(server.URL, 1)}).
		WithArchiver(archiver)

	_, err := fetcher.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, archiver.pages, 1)
	assert.Contains(t, archiver.pages[0], "/list_0.htm")
}
