package schemas

// NoteCategory organizes notes for downstream consumers such as the shadow
// graph, which keys its extraction rules off the category.
type NoteCategory string

const (
	CategoryFinding       NoteCategory = "finding"
	CategoryCredential    NoteCategory = "credential"
	CategoryTask          NoteCategory = "task"
	CategoryInfo          NoteCategory = "info"
	CategoryVulnerability NoteCategory = "vulnerability"
	CategoryArtifact      NoteCategory = "artifact"
)

// NoteConfidence grades how much weight a note should carry.
type NoteConfidence string

const (
	ConfidenceHigh   NoteConfidence = "high"
	ConfidenceMedium NoteConfidence = "medium"
	ConfidenceLow    NoteConfidence = "low"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c NoteCategory) bool {
	switch c {
	case CategoryFinding, CategoryCredential, CategoryTask, CategoryInfo,
		CategoryVulnerability, CategoryArtifact:
		return true
	}
	return false
}

// Note is one entry in the shared, key-unique notes store. Metadata carries
// structured hints (target, source, username, port, cve) that take precedence
// over free-text pattern matching during graph derivation.
type Note struct {
	Content    string            `json:"content"`
	Category   NoteCategory      `json:"category"`
	Confidence NoteConfidence    `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
