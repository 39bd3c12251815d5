package dispatch

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ivyaspire/leadtrack/internal/model"
)

//go:embed stages.yaml
var stagesYAML []byte

// Stage describes how one funnel checkpoint maps to event names.
type Stage struct {
	// Base is the platform event stem, e.g. mof_v1_page_2_view.
	Base string `yaml:"base"`
	// CategoryEvents enables the per-category derived name.
	CategoryEvents bool `yaml:"category_events"`
	// QualifiedEvents enables the qualfd_prnt/qualfd_stdnt derived names.
	QualifiedEvents bool `yaml:"qualified_events"`
	// StudentSimGate gates the student qualified event on the
	// student-as-parent simulation also qualifying.
	StudentSimGate bool `yaml:"student_sim_gate"`
	// Variants are extra names keyed by a caller-supplied variant tag.
	Variants map[string]string `yaml:"variants"`
}

// ClassificationNames are the event stems for the one-shot lead
// classification events.
type ClassificationNames struct {
	SpamParent          string `yaml:"spam_parent"`
	Parent              string `yaml:"parent"`
	QualifiedParent     string `yaml:"qualified_parent"`
	DisqualifiedParent  string `yaml:"disqualified_parent"`
	SpamStudent         string `yaml:"spam_student"`
	Student             string `yaml:"student"`
	QualifiedStudent    string `yaml:"qualified_student"`
	DisqualifiedStudent string `yaml:"disqualified_student"`
}

// Table is the declarative funnel-stage event table, the single source of
// truth for every event name the dispatcher can emit.
type Table struct {
	Stages         map[string]Stage    `yaml:"stages"`
	Classification ClassificationNames `yaml:"classification"`
}

var table = mustLoadTable()

func mustLoadTable() Table {
	var t Table
	if err := yaml.Unmarshal(stagesYAML, &t); err != nil {
		panic(fmt.Sprintf("dispatch: embedded stage table invalid: %v", err))
	}
	for key, st := range t.Stages {
		if st.Base == "" {
			panic(fmt.Sprintf("dispatch: stage %q missing base event", key))
		}
	}
	return t
}

// EventTable returns the loaded stage table, for audit and tests.
func EventTable() Table { return table }

// categoryTokens are the event-name infixes per lead category. Nurture has
// no derived events.
var categoryTokens = map[model.LeadCategory]string{
	model.CategoryBCH:   "bch",
	model.CategoryLumL1: "lum_l1",
	model.CategoryLumL2: "lum_l2",
}

const mofPrefix = "mof_v1_"

// withInfix inserts a token after the mof_v1_ prefix:
// mof_v1_page_2_view + bch -> mof_v1_bch_page_2_view.
func withInfix(base, token string) string {
	if rest, ok := strings.CutPrefix(base, mofPrefix); ok {
		return mofPrefix + token + "_" + rest
	}
	return base + "_" + token
}

// categoryEvent derives the per-category event name, or "" for categories
// without one.
func categoryEvent(base string, cat model.LeadCategory) string {
	token, ok := categoryTokens[cat]
	if !ok {
		return ""
	}
	return withInfix(base, token)
}

// qualifiedEvent derives the qualified-lead event name for a filler type,
// or "" for unknown fillers.
func qualifiedEvent(base string, filler model.FillerType) string {
	switch filler {
	case model.FillerParent:
		return withInfix(base, "qualfd_prnt")
	case model.FillerStudent:
		return withInfix(base, "qualfd_stdnt")
	}
	return ""
}
