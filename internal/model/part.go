package model

// Specifications carries the loosely-structured extras scraped for a part.
type Specifications struct {
	ProductURL   string            `json:"product_url,omitempty"`
	ReplaceParts []string          `json:"replace_parts,omitempty"`
	Symptoms     []string          `json:"symptoms,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Part is a catalog record for an appliance part.
type Part struct {
	PartNumber   string         `json:"part_number"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Category     string         `json:"category,omitempty"`
	Brand        string         `json:"brand,omitempty"`
	Price        float64        `json:"price"`
	InStock      bool           `json:"in_stock"`
	Rating       float64        `json:"rating,omitempty"`
	ReviewsCount int            `json:"reviews_count,omitempty"`
	ImageURLs    []string       `json:"image_urls,omitempty"`
	Specs        Specifications `json:"specifications"`
}

// InstallationGuide holds installation material for a part.
type InstallationGuide struct {
	PartNumber       string   `json:"part_number"`
	Difficulty       string   `json:"difficulty,omitempty"`
	EstimatedMinutes int      `json:"estimated_time_minutes,omitempty"`
	ToolsRequired    []string `json:"tools_required,omitempty"`
	VideoURL         string   `json:"video_url,omitempty"`
	PDFURL           string   `json:"pdf_url,omitempty"`
}

// CompatibilityVerdict describes how a part/model pairing was resolved.
type CompatibilityVerdict string

const (
	// CompatConfirmed means the compatibility relation has an explicit row.
	CompatConfirmed CompatibilityVerdict = "confirmed"
	// CompatLikely means a heuristic (replace-parts list, universal part)
	// matched but no explicit relation row exists.
	CompatLikely CompatibilityVerdict = "likely"
	// CompatUnknown means nothing confirmed or ruled out the pairing.
	CompatUnknown CompatibilityVerdict = "unknown"
	// CompatIncompatible means the relation explicitly marks the pairing
	// as not compatible.
	CompatIncompatible CompatibilityVerdict = "incompatible"
)

// CompatibilityResult is a row from the model x part compatibility relation.
type CompatibilityResult struct {
	Compatible bool    `json:"compatible"`
	Confidence float64 `json:"confidence_score"`
	Notes      string  `json:"notes,omitempty"`
}

// CompatibilityAssessment is the resolved compatibility outcome attached to
// a candidate by the compatibility strategy.
type CompatibilityAssessment struct {
	PartNumber  string               `json:"part_number"`
	ModelNumber string               `json:"model_number"`
	Verdict     CompatibilityVerdict `json:"verdict"`
	Confidence  float64              `json:"confidence,omitempty"`
	Notes       string               `json:"notes,omitempty"`
}
