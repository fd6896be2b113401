package database

// Migration is one schema step. Statements must be valid for both SQLite
// and Postgres and safe to re-run.
type Migration struct {
	Version     int
	Description string
	Statements  []string
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "cities, elements, analytics",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS cities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'archived')),
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS city_elements (
    id TEXT PRIMARY KEY,
    city_id TEXT NOT NULL REFERENCES cities(id),
    element_type TEXT NOT NULL,
    element_key TEXT NOT NULL,
    element_value TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('approved', 'pending', 'rejected')),
    notes TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (city_id, element_type, element_key)
)`,
			`CREATE TABLE IF NOT EXISTS analytics_events (
    id TEXT PRIMARY KEY,
    date TEXT NOT NULL,
    metric_type TEXT NOT NULL,
    metric_value INTEGER NOT NULL DEFAULT 0,
    city_id TEXT,
    metadata TEXT,
    created_at TEXT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_city_elements_city ON city_elements(city_id)`,
			`CREATE INDEX IF NOT EXISTS idx_cities_name ON cities(name)`,
			`CREATE INDEX IF NOT EXISTS idx_analytics_city ON analytics_events(city_id, date)`,
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
