package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/refresher/internal/catalog"
	"github.com/roach88/refresher/internal/model"
	"github.com/roach88/refresher/internal/refresh"
)

// Scenario is a scripted sequence of refreshes and pool changes against a
// fresh store, followed by assertions on the final owner views.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against one store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the store after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action. Exactly one of Refresh, AddPool and RemovePool is set.
type Step struct {
	Refresh    *RefreshStep `yaml:"refresh,omitempty"`
	AddPool    *PoolStep    `yaml:"add_pool,omitempty"`
	RemovePool string       `yaml:"remove_pool,omitempty"`

	// Expect checks the outcome of a refresh step. Without it the refresh
	// must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// RefreshStep refreshes one owner from an inline or file catalog.
type RefreshStep struct {
	Owner string `yaml:"owner"`

	// Catalog is an inline batch.
	Catalog *catalog.Batch `yaml:"catalog,omitempty"`

	// CatalogFile is a YAML, JSON or CUE file, relative to the scenario.
	CatalogFile string `yaml:"catalog_file,omitempty"`

	DryRun         bool `yaml:"dry_run,omitempty"`
	AllowConflicts bool `yaml:"allow_conflicts,omitempty"`
}

// PoolStep creates a pool over an owner's current product row.
type PoolStep struct {
	Owner   string `yaml:"owner"`
	ID      string `yaml:"id"`
	Product string `yaml:"product"`
}

// Expect is the expected outcome of a refresh step.
type Expect struct {
	// Error is the expected error code, e.g. CYCLE_DETECTED.
	Error model.ErrorCode `yaml:"error,omitempty"`

	// Chain is the expected cycle chain.
	Chain []string `yaml:"chain,omitempty"`

	// Counts must match exactly when set.
	Counts *refresh.Counts `yaml:"counts,omitempty"`

	// Conflicts is the expected number of recorded conflicts.
	Conflicts *int `yaml:"conflicts,omitempty"`
}

// Assertion validates the store after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Entity is product or content.
	Entity model.EntityType `yaml:"entity,omitempty"`

	// ID is the business ID.
	ID string `yaml:"id,omitempty"`

	// Owner is the owner for owner_entity and owner_absent.
	Owner string `yaml:"owner,omitempty"`

	// Owners lists the owners compared by shared and distinct.
	Owners []string `yaml:"owners,omitempty"`

	// UUID is the expected object identity for owner_entity. Optional.
	UUID string `yaml:"uuid,omitempty"`

	// Name is the expected name for owner_entity. Optional.
	Name string `yaml:"name,omitempty"`

	// Count is the expected number of orphans.
	Count int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertOwnerEntity = "owner_entity"
	AssertOwnerAbsent = "owner_absent"
	AssertShared      = "shared"
	AssertDistinct    = "distinct"
	AssertOrphans     = "orphans"
)

// LoadScenario reads a scenario file. Unknown fields are rejected and
// catalog files are resolved relative to the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range scenario.Steps {
		r := scenario.Steps[i].Refresh
		if r == nil || r.CatalogFile == "" || filepath.IsAbs(r.CatalogFile) {
			continue
		}
		r.CatalogFile = filepath.Join(base, r.CatalogFile)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	set := 0
	if step.Refresh != nil {
		set++
	}
	if step.AddPool != nil {
		set++
	}
	if step.RemovePool != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of refresh, add_pool, remove_pool is required", i)
	}

	switch {
	case step.Refresh != nil:
		r := step.Refresh
		if r.Owner == "" {
			return fmt.Errorf("steps[%d].refresh: owner is required", i)
		}
		if r.Catalog != nil && r.CatalogFile != "" {
			return fmt.Errorf("steps[%d].refresh: catalog and catalog_file are mutually exclusive", i)
		}
	case step.AddPool != nil:
		p := step.AddPool
		if p.Owner == "" || p.ID == "" || p.Product == "" {
			return fmt.Errorf("steps[%d].add_pool: owner, id and product are required", i)
		}
	}
	if step.Expect != nil && step.Refresh == nil {
		return fmt.Errorf("steps[%d]: expect is only valid on refresh steps", i)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needsEntity := func() error {
		if a.Entity != model.TypeProduct && a.Entity != model.TypeContent {
			return fmt.Errorf("assertions[%d]: entity must be product or content for %s", index, a.Type)
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertOwnerEntity, AssertOwnerAbsent:
		if a.Owner == "" {
			return fmt.Errorf("assertions[%d]: owner is required for %s", index, a.Type)
		}
		return needsEntity()
	case AssertShared, AssertDistinct:
		if len(a.Owners) < 2 {
			return fmt.Errorf("assertions[%d]: at least two owners are required for %s", index, a.Type)
		}
		return needsEntity()
	case AssertOrphans:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for orphans", index)
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
}
