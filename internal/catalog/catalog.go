// Package catalog provides the structured parts catalog backed by Postgres:
// full-text keyword search, direct part lookup, the model x part
// compatibility relation, installation guides, and troubleshooting entries.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("catalog record not found")

// Catalog is a Postgres-backed parts catalog.
type Catalog struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Catalog, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close releases the connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ping reports backend health for readiness checks.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

const partColumns = `
	part_number, name, COALESCE(description, ''), COALESCE(category, ''),
	COALESCE(brand, ''), price, in_stock, COALESCE(rating, 0),
	COALESCE(reviews_count, 0), COALESCE(image_urls, '[]'),
	COALESCE(specifications, '{}')`

func scanPart(row interface{ Scan(...any) error }) (*model.Part, error) {
	var p model.Part
	var imageURLs, specs []byte

	err := row.Scan(
		&p.PartNumber, &p.Name, &p.Description, &p.Category, &p.Brand,
		&p.Price, &p.InStock, &p.Rating, &p.ReviewsCount, &imageURLs, &specs,
	)
	if err != nil {
		return nil, err
	}

	// Scraped JSON columns; a malformed blob degrades to empty fields.
	_ = json.Unmarshal(imageURLs, &p.ImageURLs)
	_ = json.Unmarshal(specs, &p.Specs)

	return &p, nil
}

// SearchByKeyword runs full-text search over the products table, ranked by
// ts_rank. An empty category means no category filter.
func (c *Catalog) SearchByKeyword(ctx context.Context, keyword, category string, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + partColumns + `,
			ts_rank(search_vector, plainto_tsquery('english', $1)) AS score
		FROM products
		WHERE search_vector @@ plainto_tsquery('english', $1)
			AND ($2 = '' OR category = $2)
		ORDER BY score DESC
		LIMIT $3`

	rows, err := c.db.QueryContext(ctx, query, keyword, category, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var p model.Part
		var imageURLs, specs []byte
		var score float64

		err := rows.Scan(
			&p.PartNumber, &p.Name, &p.Description, &p.Category, &p.Brand,
			&p.Price, &p.InStock, &p.Rating, &p.ReviewsCount, &imageURLs, &specs,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("keyword search scan failed: %w", err)
		}
		_ = json.Unmarshal(imageURLs, &p.ImageURLs)
		_ = json.Unmarshal(specs, &p.Specs)

		candidates = append(candidates, model.Candidate{
			Part:       p,
			RawScore:   score,
			Strategies: []model.Strategy{model.StrategyKeyword},
		})
	}
	return candidates, rows.Err()
}

// GetPart returns the full catalog record for a part number.
func (c *Catalog) GetPart(ctx context.Context, partNumber string) (*model.Part, error) {
	query := `SELECT ` + partColumns + ` FROM products WHERE part_number = $1`

	p, err := scanPart(c.db.QueryRowContext(ctx, query, partNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("part lookup failed: %w", err)
	}
	return p, nil
}

// PartsByNumbers returns catalog records for a set of part numbers, used to
// hydrate identifiers surfaced by the symptom strategy.
func (c *Catalog) PartsByNumbers(ctx context.Context, partNumbers []string, limit int) ([]model.Part, error) {
	if len(partNumbers) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + partColumns + ` FROM products WHERE part_number = ANY($1) LIMIT $2`

	rows, err := c.db.QueryContext(ctx, query, pq.Array(partNumbers), limit)
	if err != nil {
		return nil, fmt.Errorf("parts-by-numbers lookup failed: %w", err)
	}
	defer rows.Close()

	var parts []model.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, fmt.Errorf("parts-by-numbers scan failed: %w", err)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// CheckCompatibility looks up the compatibility relation for an exact
// part x model pairing. ErrNotFound means the relation has no row; it does
// not imply incompatibility.
func (c *Catalog) CheckCompatibility(ctx context.Context, partNumber, modelNumber string) (*model.CompatibilityResult, error) {
	var result model.CompatibilityResult
	var notes sql.NullString

	err := c.db.QueryRowContext(ctx, `
		SELECT compatible, confidence_score, notes
		FROM compatibility
		WHERE part_number = $1 AND model_number = $2`,
		partNumber, modelNumber,
	).Scan(&result.Compatible, &result.Confidence, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("compatibility lookup failed: %w", err)
	}

	result.Notes = notes.String
	return &result, nil
}

// GetInstallationGuide returns installation material for a part.
func (c *Catalog) GetInstallationGuide(ctx context.Context, partNumber string) (*model.InstallationGuide, error) {
	var g model.InstallationGuide
	var tools []byte
	var videoURL, pdfURL sql.NullString

	err := c.db.QueryRowContext(ctx, `
		SELECT difficulty, estimated_time_minutes, COALESCE(tools_required, '[]'),
			video_url, pdf_url
		FROM installation_guides
		WHERE part_number = $1`,
		partNumber,
	).Scan(&g.Difficulty, &g.EstimatedMinutes, &tools, &videoURL, &pdfURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("installation guide lookup failed: %w", err)
	}

	g.PartNumber = partNumber
	g.VideoURL = videoURL.String
	g.PDFURL = pdfURL.String
	_ = json.Unmarshal(tools, &g.ToolsRequired)

	return &g, nil
}

// TroubleshootingEntry is a row from the troubleshooting knowledge base.
type TroubleshootingEntry struct {
	IssueTitle       string   `json:"issue_title"`
	Symptoms         []string `json:"symptoms,omitempty"`
	PossibleCauses   []string `json:"possible_causes,omitempty"`
	DiagnosticSteps  []string `json:"diagnostic_steps,omitempty"`
	RecommendedParts []string `json:"recommended_parts,omitempty"`
	ApplianceType    string   `json:"appliance_type,omitempty"`
	Brand            string   `json:"brand,omitempty"`
}

// SearchTroubleshooting returns knowledge-base entries matching a symptom.
func (c *Catalog) SearchTroubleshooting(ctx context.Context, symptom, applianceType string, limit int) ([]TroubleshootingEntry, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT issue_title, COALESCE(symptoms, '[]'), COALESCE(possible_causes, '[]'),
			COALESCE(diagnostic_steps, '[]'), COALESCE(recommended_parts, '[]'),
			COALESCE(appliance_type, ''), COALESCE(brand, '')
		FROM troubleshooting_kb
		WHERE issue_title ILIKE '%' || $1 || '%'
			AND ($2 = '' OR appliance_type = $2)
		LIMIT $3`,
		symptom, applianceType, limit)
	if err != nil {
		return nil, fmt.Errorf("troubleshooting search failed: %w", err)
	}
	defer rows.Close()

	var entries []TroubleshootingEntry
	for rows.Next() {
		var e TroubleshootingEntry
		var symptoms, causes, steps, parts []byte

		err := rows.Scan(&e.IssueTitle, &symptoms, &causes, &steps, &parts, &e.ApplianceType, &e.Brand)
		if err != nil {
			return nil, fmt.Errorf("troubleshooting scan failed: %w", err)
		}
		_ = json.Unmarshal(symptoms, &e.Symptoms)
		_ = json.Unmarshal(causes, &e.PossibleCauses)
		_ = json.Unmarshal(steps, &e.DiagnosticSteps)
		_ = json.Unmarshal(parts, &e.RecommendedParts)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Documents streams the document corpus (troubleshooting and installation
// text) used to build the semantic index at startup.
func (c *Catalog) Documents(ctx context.Context) ([]model.ContextDoc, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, doc_type, COALESCE(part_number, ''), content
		FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("document load failed: %w", err)
	}
	defer rows.Close()

	var docs []model.ContextDoc
	for rows.Next() {
		var d model.ContextDoc
		if err := rows.Scan(&d.ID, &d.DocType, &d.PartNumber, &d.Content); err != nil {
			return nil, fmt.Errorf("document scan failed: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
