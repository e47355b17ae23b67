package policyfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"gorm.io/gorm"

	"policy_kline_backend/models"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// minimum gap between scrapes of the same source, so repeated manual
	// triggers don't hammer the upstream sites
	fetchInterval = 1 * time.Hour

	// politeness delay between listing pages of one source
	pageDelay = 1 * time.Second
)

// Source describes one government site section to scrape. PageURL receives a
// zero-based page index and returns the listing URL for that page.
type Source struct {
	Name       string
	Department string
	MaxPages   int
	PageURL    func(page int) string
}

// DefaultSources covers the State Council, Ministry of Finance and NDRC
// policy listings.
func DefaultSources() []Source {
	return []Source{
		{
			Name:       "gov.cn",
			Department: "国务院",
			MaxPages:   5,
			PageURL: func(page int) string {
				if page == 0 {
					return "https://www.gov.cn/zhengce/zuixin/"
				}
				return fmt.Sprintf("https://www.gov.cn/zhengce/zuixin/home_%d.htm", page)
			},
		},
		{
			Name:       "mof.gov.cn",
			Department: "财政部",
			MaxPages:   3,
			PageURL: func(page int) string {
				if page == 0 {
					return "https://www.mof.gov.cn/zhengwuxinxi/zhengcefabu/index.htm"
				}
				return fmt.Sprintf("https://www.mof.gov.cn/zhengwuxinxi/zhengcefabu/index_%d.htm", page)
			},
		},
		{
			Name:       "ndrc.gov.cn",
			Department: "国家发展改革委",
			MaxPages:   3,
			PageURL: func(page int) string {
				if page == 0 {
					return "https://www.ndrc.gov.cn/xxgk/zcfb/fzggwl/index.html"
				}
				return fmt.Sprintf("https://www.ndrc.gov.cn/xxgk/zcfb/fzggwl/index_%d.html", page)
			},
		},
	}
}

// Archiver stores raw page snapshots for later re-processing. Implementations
// must tolerate being called concurrently; failures are the archiver's own
// concern and never fail a scrape.
type Archiver interface {
	SavePage(ctx context.Context, source, url string, body []byte)
}

// Fetcher scrapes policy listings into the database.
type Fetcher struct {
	db         *gorm.DB
	httpClient *http.Client
	sources    []Source
	archiver   Archiver // optional
}

// NewFetcher creates a policy fetcher over the default sources.
func NewFetcher(db *gorm.DB) *Fetcher {
	return &Fetcher{
		db:      db,
		sources: DefaultSources(),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// WithSources replaces the source list, used by tests and targeted refetches.
func (f *Fetcher) WithSources(sources []Source) *Fetcher {
	f.sources = sources
	return f
}

// WithArchiver attaches a raw-page archiver.
func (f *Fetcher) WithArchiver(a Archiver) *Fetcher {
	f.archiver = a
	return f
}

// FetchAll scrapes every source, honoring the per-source fetch throttle.
// It returns the number of newly stored events; per-source failures are
// recorded in the fetch log and do not abort the remaining sources.
func (f *Fetcher) FetchAll(ctx context.Context) (int, error) {
	total := 0
	var lastErr error

	for _, src := range f.sources {
		if f.shouldSkipFetch(src.Name) {
			log.Printf("Skipping %s: fetched within the last %s", src.Name, fetchInterval)
			continue
		}

		count, err := f.fetchSource(ctx, src)
		if err != nil {
			log.Printf("Fetch from %s failed: %v", src.Name, err)
			f.recordFetchStatus(src.Name, "error", err.Error(), count)
			lastErr = err
			continue
		}

		log.Printf("Fetched %d new events from %s", count, src.Name)
		f.recordFetchStatus(src.Name, "success", "", count)
		total += count
	}

	if total == 0 && lastErr != nil {
		return 0, lastErr
	}
	return total, nil
}

// fetchSource paginates through one source's listing pages. Pagination stops
// at the page cap, on a 404, or on a page yielding no usable items.
func (f *Fetcher) fetchSource(ctx context.Context, src Source) (int, error) {
	saved := 0
	for page := 0; page < src.MaxPages; page++ {
		if page > 0 {
			select {
			case <-ctx.Done():
				return saved, ctx.Err()
			case <-time.After(pageDelay):
			}
		}

		pageURL := src.PageURL(page)
		items, notFound, err := f.fetchListPage(ctx, src, pageURL)
		if err != nil {
			return saved, err
		}
		if notFound || len(items) == 0 {
			break
		}

		n, err := f.saveItems(ctx, src, items)
		if err != nil {
			return saved, err
		}
		saved += n
	}
	return saved, nil
}

func (f *Fetcher) fetchListPage(ctx context.Context, src Source, pageURL string) ([]rawItem, bool, error) {
	body, status, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, true, nil
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("%s returned status %d", pageURL, status)
	}

	if f.archiver != nil {
		f.archiver.SavePage(ctx, src.Name, pageURL, body)
	}

	items, err := parseListPage(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, false, err
	}
	return items, false, nil
}

// saveItems classifies and stores the scraped items, skipping duplicates on
// (title, date). Items still missing a date after the detail-page fallback
// get today's date.
func (f *Fetcher) saveItems(ctx context.Context, src Source, items []rawItem) (int, error) {
	saved := 0
	for _, item := range items {
		date := item.Date
		if date == "" {
			date = f.fetchDetailDate(ctx, item.URL)
		}
		if date == "" {
			date = time.Now().Format("2006-01-02")
		}

		var existing models.PolicyEvent
		err := f.db.Where("title = ? AND date = ?", item.Title, date).First(&existing).Error
		if err == nil {
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return saved, fmt.Errorf("duplicate check failed: %w", err)
		}

		department := extractDepartment(item.Title, src.Department)
		event := models.PolicyEvent{
			Date:        date,
			Title:       item.Title,
			EventType:   classifyPolicyType(item.Title),
			SourceURL:   item.URL,
			Department:  department,
			PolicyLevel: determinePolicyLevel(item.Title, department),
			ImpactLevel: assessImpactLevel(item.Title),
			ContentType: "政策",
		}
		if err := f.db.Create(&event).Error; err != nil {
			return saved, fmt.Errorf("failed to store event: %w", err)
		}
		saved++
	}
	return saved, nil
}

// fetchDetailDate loads an article page and pulls its publish date; an empty
// string means the page gave none.
func (f *Fetcher) fetchDetailDate(ctx context.Context, articleURL string) string {
	body, status, err := f.get(ctx, articleURL)
	if err != nil || status != http.StatusOK {
		return ""
	}
	return extractDateFromText(string(body))
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}
	return body, resp.StatusCode, nil
}

// shouldSkipFetch reports whether the source was scraped successfully within
// the throttle window.
func (f *Fetcher) shouldSkipFetch(sourceName string) bool {
	var entry models.FetchLog
	if err := f.db.Where("source_name = ?", sourceName).First(&entry).Error; err != nil {
		return false
	}
	return entry.FetchStatus == "success" && time.Since(entry.LastFetchTime) < fetchInterval
}

// recordFetchStatus upserts the fetch-log row for a source.
func (f *Fetcher) recordFetchStatus(sourceName, status, errMsg string, records int) {
	var entry models.FetchLog
	err := f.db.Where("source_name = ?", sourceName).First(&entry).Error
	if err == gorm.ErrRecordNotFound {
		entry = models.FetchLog{SourceName: sourceName}
	} else if err != nil {
		log.Printf("Failed to load fetch log for %s: %v", sourceName, err)
		return
	}

	entry.LastFetchTime = time.Now()
	entry.FetchStatus = status
	entry.ErrorMessage = errMsg
	entry.RecordsFetched = records
	if err := f.db.Save(&entry).Error; err != nil {
		log.Printf("Failed to record fetch status for %s: %v", sourceName, err)
	}
}
