package tools

// Input type definitions for the builtin tools. Argument validation is
// driven by the JSON Schema derived from these types.

// WebSearchInput defines input for the web_search tool.
type WebSearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
	// MaxResults caps how many results come back. Zero means the default.
	MaxResults int `json:"max_results,omitempty" jsonschema_description:"Maximum number of results to return (1-10, default 5)"`
}

// FetchPageInput defines input for the fetch_page tool.
type FetchPageInput struct {
	URL string `json:"url" jsonschema_description:"The URL of the page to fetch"`
}

// CurrentTimeInput defines input for the current_time tool.
type CurrentTimeInput struct {
	// Timezone is an IANA name such as "Asia/Taipei". Empty means UTC.
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone name (e.g. Asia/Taipei); defaults to UTC"`
}
