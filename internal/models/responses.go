package models

// Analysis statuses.
const (
	StatusOK       = "ok"
	StatusBlocked  = "blocked"
	StatusFallback = "fallback"
)

// PlaybookSummary identifies the playbook an analysis ran with.
type PlaybookSummary struct {
	ID          string `json:"id"`
	Domain      string `json:"domain"`
	Description string `json:"description"`
}

// BlockedResult replaces the narrative when the hallucination detector trips.
type BlockedResult struct {
	Message            string                   `json:"message"`
	CriticalViolations []HallucinationViolation `json:"critical_violations"`
	Violations         []HallucinationViolation `json:"violations"`
}

// AnalysisResponse is the engine's complete answer to one question over one dataset.
type AnalysisResponse struct {
	Status        string                  `json:"status"`
	AnalysisID    string                  `json:"analysis_id"`
	Question      string                  `json:"question"`
	Playbook      *PlaybookSummary        `json:"playbook,omitempty"`
	Compatibility *CompatibilityResult    `json:"compatibility,omitempty"`
	Candidates    []CompatibilityResult   `json:"candidates"`
	Schema        []Column                `json:"schema"`
	Plan          *SemanticPlan           `json:"plan,omitempty"`
	Guardrails    *GuardrailsResult       `json:"guardrails,omitempty"`
	Result        *StructuredResult       `json:"result,omitempty"`
	Narrative     *Narrative              `json:"narrative,omitempty"`
	Hallucination *HallucinationReport    `json:"hallucination,omitempty"`
	Blocked       *BlockedResult          `json:"blocked,omitempty"`
	Fallback      *FallbackAnalysisResult `json:"fallback,omitempty"`
	Confidence    int                     `json:"confidence"`
}

// UploadResponse is returned after a successful CSV upload.
type UploadResponse struct {
	DatasetID   string   `json:"dataset_id"`
	Message     string   `json:"message"`
	Rows        int      `json:"rows"`
	Columns     int      `json:"columns"`
	ColumnNames []string `json:"column_names"`
}

// DatasetStatus describes a stored dataset.
type DatasetStatus struct {
	DatasetID string   `json:"dataset_id"`
	FileName  string   `json:"filename,omitempty"`
	Rows      int      `json:"rows"`
	Schema    []Column `json:"schema"`
}

// SchemaValidationResponse is returned by the schema validation endpoint.
type SchemaValidationResponse struct {
	Schema        []Column              `json:"schema"`
	Compatibility []CompatibilityResult `json:"compatibility"`
}

// OllamaConfig describes the narrative rewriter backend.
type OllamaConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}
