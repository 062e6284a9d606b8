package models

import (
	"strings"
	"time"
)

type BillStatus string

const (
	BillStatusNew        BillStatus = "new"
	BillStatusIntroduced BillStatus = "introduced"
	BillStatusUpdated    BillStatus = "updated"
	BillStatusPassed     BillStatus = "passed"
	BillStatusDefeated   BillStatus = "defeated"
	BillStatusVetoed     BillStatus = "vetoed"
	BillStatusEnacted    BillStatus = "enacted"
	BillStatusPending    BillStatus = "pending"
)

// ParseBillStatus maps a provider status string onto the fixed enumeration.
// Unknown values fall back to pending.
func ParseBillStatus(s string) BillStatus {
	norm := BillStatus(strings.ToLower(strings.TrimSpace(s)))
	switch norm {
	case BillStatusNew, BillStatusIntroduced, BillStatusUpdated, BillStatusPassed,
		BillStatusDefeated, BillStatusVetoed, BillStatusEnacted, BillStatusPending:
		return norm
	default:
		return BillStatusPending
	}
}

// Bill is the legislative record. The (Source, SessionKey, BillNumber)
// triple is the natural key; ID is the internal surrogate.
type Bill struct {
	ID          int64
	Source      string
	SessionKey  string
	BillNumber  string
	Title       string
	Description string
	Status      BillStatus
	ChangeHash  string
	RawPayload  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TextVersion is one committed version of a bill's text. VersionNum starts
// at 1 and increases per bill; committed versions below the head are never
// mutated.
type TextVersion struct {
	ID          int64
	BillID      int64
	VersionNum  int
	Note        string
	URL         string
	Content     []byte
	IsBinary    bool
	ContentType string
	ByteLen     int
	ContentHash string
	CreatedAt   time.Time
}

type Sponsor struct {
	ID       int64
	BillID   int64
	Name     string
	Role     string
	Party    string
	District string
	Primary  bool
}

type AmendmentStatus string

const (
	AmendmentProposed AmendmentStatus = "proposed"
	AmendmentAdopted  AmendmentStatus = "adopted"
)

// Amendment is identified by AmendmentID unique within its bill. The only
// modeled transition is proposed -> adopted.
type Amendment struct {
	ID          int64
	BillID      int64
	AmendmentID string
	Status      AmendmentStatus
	Date        string
	Title       string
	Description string
	ChangeHash  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Analysis is one version in a bill's append-only analysis chain.
// PreviousVersionID is nil for version 1 and otherwise points at the row
// with AnalysisVersion-1.
type Analysis struct {
	ID                int64
	BillID            int64
	AnalysisVersion   int
	PreviousVersionID *int64
	Summary           string
	KeyPoints         string // JSON array
	Impacts           string // JSON object keyed by impact category
	RecommendedAction string // JSON array
	ImmediateActions  string // JSON array
	ResourceNeeds     string // JSON array
	ImpactCategory    ImpactCategory
	ImpactLevel       ImpactLevel
	Model             string
	Confidence        *float64
	CreatedAt         time.Time
}

type ImpactCategory string

const (
	ImpactPublicHealth    ImpactCategory = "public_health"
	ImpactLocalGovernment ImpactCategory = "local_government"
	ImpactEconomic        ImpactCategory = "economic"
	ImpactEnvironmental   ImpactCategory = "environmental"
	ImpactEducation       ImpactCategory = "education"
	ImpactInfrastructure  ImpactCategory = "infrastructure"
)

type ImpactLevel string

const (
	ImpactLevelLow      ImpactLevel = "low"
	ImpactLevelModerate ImpactLevel = "moderate"
	ImpactLevelHigh     ImpactLevel = "high"
	ImpactLevelCritical ImpactLevel = "critical"
)

// ParseImpactCategory maps a free-form category string case-insensitively
// onto the fixed enumeration. Spaces and hyphens are treated as underscores.
func ParseImpactCategory(s string) (ImpactCategory, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch ImpactCategory(norm) {
	case ImpactPublicHealth, ImpactLocalGovernment, ImpactEconomic,
		ImpactEnvironmental, ImpactEducation, ImpactInfrastructure:
		return ImpactCategory(norm), true
	}
	return "", false
}

// ParseImpactLevel maps a free-form level string case-insensitively onto
// the fixed enumeration. "medium" is accepted as an alias for moderate.
func ParseImpactLevel(s string) (ImpactLevel, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "medium" {
		norm = string(ImpactLevelModerate)
	}
	switch ImpactLevel(norm) {
	case ImpactLevelLow, ImpactLevelModerate, ImpactLevelHigh, ImpactLevelCritical:
		return ImpactLevel(norm), true
	}
	return "", false
}

// ImpactRating is a derived snapshot of the latest analysis, replaced
// wholesale on every re-analysis.
type ImpactRating struct {
	ID               int64
	BillID           int64
	AnalysisID       int64
	Category         ImpactCategory
	Level            ImpactLevel
	Description      string
	AffectedEntities string // JSON array
	Confidence       float64
	AIGenerated      bool
	ReviewedBy       string
	IsPrimary        bool
	CreatedAt        time.Time
}

type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusPartial    RunStatus = "partial"
	RunStatusFailed     RunStatus = "failed"
)

// MaxErrorSamples bounds the verbatim error samples kept on a run record.
// The full detail lives in the sync_errors table.
const MaxErrorSamples = 5

type SyncRun struct {
	ID                string
	Status            RunStatus
	StartedAt         time.Time
	CompletedAt       *time.Time
	NewBills          int
	BillsUpdated      int
	BillsAnalyzed     int
	AmendmentsTracked int
	ErrorCount        int
	ErrorSamples      string // JSON array, at most MaxErrorSamples entries
}

type ErrorCategory string

const (
	ErrCategorySession   ErrorCategory = "session_fetch"
	ErrCategoryManifest  ErrorCategory = "manifest_fetch"
	ErrCategoryBillFetch ErrorCategory = "bill_fetch"
	ErrCategoryStore     ErrorCategory = "store"
	ErrCategoryAmendment ErrorCategory = "amendment"
	ErrCategoryAnalysis  ErrorCategory = "analysis"
)

// SyncError is an append-only audit record scoped to one run.
type SyncError struct {
	ID         int64
	RunID      string
	OccurredAt time.Time
	Category   ErrorCategory
	Message    string
	StackTrace string
}

// RunSummary is the final per-run summary emitted for external consumers.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	Status            RunStatus `json:"status"`
	NewBills          int       `json:"new_bills"`
	BillsUpdated      int       `json:"bills_updated"`
	BillsAnalyzed     int       `json:"bills_analyzed"`
	AmendmentsTracked int       `json:"amendments_tracked"`
	ErrorCount        int       `json:"error_count"`
}
