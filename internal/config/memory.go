package config

// MemoryConfig configures the per-agent memory stores.
type MemoryConfig struct {
	// Records kept per agent before eviction (M)
	Capacity int `yaml:"capacity"`

	// Importance assigned to exchange records when the caller gives none
	DefaultImportance int `yaml:"default_importance"`

	// Session archive: SQLite file and driver ("sqlite" = modernc, "sqlite3" = mattn/cgo)
	DatabasePath string `yaml:"database_path"`
	Driver       string `yaml:"driver"`
}
