package harness

import (
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
	"github.com/roach88/refresher/internal/store"
)

// StepResult records what one step did.
type StepResult struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"` // "refresh", "add_pool" or "remove_pool"
	Owner string `json:"owner,omitempty"`
	Pool  string `json:"pool,omitempty"`

	// Refresh outcome. ErrorCode is set when the refresh failed.
	DryRun    bool                  `json:"dry_run,omitempty"`
	Changes   []store.AppliedChange `json:"changes,omitempty"`
	Counts    refresh.Counts        `json:"counts"`
	Conflicts []refresh.Conflict    `json:"conflicts,omitempty"`
	ErrorCode model.ErrorCode       `json:"error_code,omitempty"`
	Chain     []string              `json:"chain,omitempty"`
}

// OwnerEntity is one association in an owner's final view.
type OwnerEntity struct {
	Type model.EntityType `json:"type"`
	ID   string           `json:"id"`
	UUID string           `json:"uuid"`
	Name string           `json:"name"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Owners is each touched owner's final view, products then contents,
	// each ordered by ID.
	Owners map[string][]OwnerEntity `json:"owners"`

	// Orphans are the rows no owner, product or pool references.
	Orphans []store.Orphan `json:"orphans"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Owners: make(map[string][]OwnerEntity),
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lookup returns an owner's association for (typ, id).
func (r *Result) Lookup(owner string, typ model.EntityType, id string) (OwnerEntity, bool) {
	for _, e := range r.Owners[owner] {
		if e.Type == typ && e.ID == id {
			return e, true
		}
	}
	return OwnerEntity{}, false
}
