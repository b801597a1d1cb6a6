package main

// CoverKind says where a page cover is hosted.
type CoverKind string

const (
	CoverExternal CoverKind = "external" // linked from another site
	CoverHosted   CoverKind = "hosted"   // uploaded to Notion, signed short-lived URL
)

// CoverRef is a page cover image.
type CoverRef struct {
	Kind CoverKind
	URL  string
}

// PageMetadata is the validated subset of a Notion page's properties.
type PageMetadata struct {
	Title string
	Cover *CoverRef
}

// Article is the row written to the articles table.
type Article struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Cover   *string `json:"cover"`
}
