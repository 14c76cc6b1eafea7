package model

// PageSummary is the bounded snapshot the content script sends once per page load.
// Only URL is required; every other field may be empty.
type PageSummary struct {
	URL         string           `json:"url" binding:"required"`
	Title       string           `json:"title"`
	VisibleText string           `json:"visible_text"`
	HtmlSnippet string           `json:"html_snippet"`
	Scripts     []string         `json:"scripts"`
	Forms       []FormDescriptor `json:"forms"`
	Iframes     []string         `json:"iframes"`
	Links       []string         `json:"links"`
}

// FormDescriptor never carries input values.
type FormDescriptor struct {
	Action     string `json:"action"`
	Method     string `json:"method"`
	InputCount int    `json:"input_count"`
}
