package models

import (
	"time"

	"gorm.io/gorm"
)

// PolicyEvent represents a scraped government policy/news announcement.
type PolicyEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Date        string    `gorm:"index;not null" json:"date"` // YYYY-MM-DD
	Title       string    `gorm:"index;not null" json:"title"`
	EventType   string    `gorm:"index" json:"event_type"` // 货币政策, 财政政策, ...
	Content     string    `json:"content"`
	SourceURL   string    `json:"source_url"`
	Department  string    `json:"department"`
	PolicyLevel string    `json:"policy_level"` // 国家级, 部委级, 地方级
	ImpactLevel string    `json:"impact_level"` // 高, 中, 低
	ContentType string    `gorm:"default:'政策'" json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// PolicyAnalysis stores the AI classification result for one policy event.
// Industries is a JSON array of industry names; ContentQuality records how
// much source text the classification was based on.
type PolicyAnalysis struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	PolicyID        uint        `gorm:"uniqueIndex;not null" json:"policy_id"`
	Policy          PolicyEvent `gorm:"foreignKey:PolicyID" json:"-"`
	Industries      string      `json:"industries"`
	ImpactType      string      `json:"impact_type"` // 正面, 负面, 中性
	AnalysisSummary string      `json:"analysis_summary"`
	ConfidenceScore float64     `json:"confidence_score"`
	ContentQuality  string      `gorm:"default:'unknown'" json:"content_quality"` // full, partial, title_only
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// FetchLog tracks the last scrape per data source so repeated manual triggers
// do not hammer the upstream sites.
type FetchLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SourceName     string    `gorm:"uniqueIndex;not null" json:"source_name"`
	LastFetchTime  time.Time `gorm:"not null" json:"last_fetch_time"`
	FetchStatus    string    `gorm:"default:'success'" json:"fetch_status"` // success, error
	ErrorMessage   string    `json:"error_message"`
	RecordsFetched int       `json:"records_fetched"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MigrateEventModels runs database migrations for policy-event models
func MigrateEventModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&PolicyEvent{},
		&PolicyAnalysis{},
		&FetchLog{},
	)
}
