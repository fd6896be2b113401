package database

// CityStatus is the lifecycle state of a city record.
type CityStatus string

const (
	CityDraft    CityStatus = "draft"
	CityActive   CityStatus = "active"
	CityArchived CityStatus = "archived"
)

// City is the parent record elements hang off.
type City struct {
	ID        string
	Name      string
	Status    CityStatus
	CreatedAt string
	UpdatedAt string
}

// MetricResearchCompleted is the metric type written after a pipeline run.
const MetricResearchCompleted = "research_completed"

// AnalyticsEvent is an append-only fact row.
type AnalyticsEvent struct {
	ID          string
	Date        string // YYYY-MM-DD
	MetricType  string
	MetricValue int
	CityID      string
	Metadata    map[string]any
	CreatedAt   string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Cities          int
	DraftCities     int
	ActiveCities    int
	ArchivedCities  int
	Elements        int
	Approved        int
	Pending         int
	Rejected        int
	AnalyticsEvents int
}
