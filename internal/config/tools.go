package config

// SearXNGConfig holds SearXNG service configuration for web search.
type SearXNGConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080)
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// FetchConfig holds page fetching configuration for the fetch_page tool.
type FetchConfig struct {
	// TimeoutMs is request timeout in milliseconds (default: 30000)
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
	// MaxBodyBytes caps the response body read from fetched pages (default: 2MiB)
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}
