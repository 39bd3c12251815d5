// Package classify maps raw form fields to a lead category. The rule set is
// an ordered decision list; the first matching rule wins and every input
// combination resolves to exactly one category, with nurture as the
// catch-all. All functions are pure: no I/O, no hidden state.
package classify

import (
	"slices"

	"github.com/ivyaspire/leadtrack/internal/model"
)

// Fields is the subset of the form snapshot the classifier consumes.
type Fields struct {
	FormFillerType         model.FillerType
	CurrentGrade           string
	ScholarshipRequirement string
	TargetGeographies      []string
	GradeFormat            model.GradeFormat
	GPAValue               string
	PercentageValue        string
}

// FieldsFromSnapshot extracts classification inputs from a snapshot.
func FieldsFromSnapshot(s model.FormSnapshot) Fields {
	return Fields{
		FormFillerType:         s.FormFillerType,
		CurrentGrade:           s.CurrentGrade,
		ScholarshipRequirement: s.ScholarshipRequirement,
		TargetGeographies:      s.TargetGeographies,
		GradeFormat:            s.GradeFormat,
		GPAValue:               s.GPAValue,
		PercentageValue:        s.PercentageValue,
	}
}

// broadGeos are the non-US geographies that route grade-11 leads to the
// Lumiere tracks.
var broadGeos = []string{"UK", "Rest of World", "Need Guidance"}

func geoIncludes(f Fields, geo string) bool {
	return slices.Contains(f.TargetGeographies, geo)
}

func geoIntersectsBroad(f Fields) bool {
	for _, g := range f.TargetGeographies {
		if slices.Contains(broadGeos, g) {
			return true
		}
	}
	return false
}

func scholarshipIn(f Fields, values ...string) bool {
	return slices.Contains(values, f.ScholarshipRequirement)
}

func gradeIn(f Fields, grades ...string) bool {
	return slices.Contains(grades, f.CurrentGrade)
}

// Rule is one predicate -> category entry of the decision list.
type Rule struct {
	Name     string
	Match    func(Fields) bool
	Category model.LeadCategory
}

// Rules is the ordered decision list, evaluated top to bottom. It is
// exported so the rule set can be audited and tested independently.
var Rules = []Rule{
	{
		Name:     "full_scholarship_nurture",
		Match:    func(f Fields) bool { return f.ScholarshipRequirement == model.ScholarshipFull },
		Category: model.CategoryNurture,
	},
	{
		Name:     "grade_out_of_range_nurture",
		Match:    func(f Fields) bool { return gradeIn(f, "7_below", "masters") },
		Category: model.CategoryNurture,
	},
	{
		Name: "grade_8_10_bch",
		Match: func(f Fields) bool {
			return gradeIn(f, "8", "9", "10") &&
				scholarshipIn(f, model.ScholarshipOptional, model.ScholarshipPartial)
		},
		Category: model.CategoryBCH,
	},
	{
		Name: "grade_11_us_bch",
		Match: func(f Fields) bool {
			return f.CurrentGrade == "11" &&
				scholarshipIn(f, model.ScholarshipOptional, model.ScholarshipPartial) &&
				geoIncludes(f, "US")
		},
		Category: model.CategoryBCH,
	},
	{
		Name: "grade_11_broad_lum_l1",
		Match: func(f Fields) bool {
			return f.CurrentGrade == "11" &&
				f.ScholarshipRequirement == model.ScholarshipOptional &&
				geoIntersectsBroad(f)
		},
		Category: model.CategoryLumL1,
	},
	{
		Name: "grade_12_optional_lum_l1",
		Match: func(f Fields) bool {
			return f.CurrentGrade == "12" && f.ScholarshipRequirement == model.ScholarshipOptional
		},
		Category: model.CategoryLumL1,
	},
	{
		Name: "grade_11_broad_lum_l2",
		Match: func(f Fields) bool {
			return f.CurrentGrade == "11" &&
				f.ScholarshipRequirement == model.ScholarshipPartial &&
				geoIntersectsBroad(f)
		},
		Category: model.CategoryLumL2,
	},
	{
		Name: "grade_12_partial_lum_l2",
		Match: func(f Fields) bool {
			return f.CurrentGrade == "12" && f.ScholarshipRequirement == model.ScholarshipPartial
		},
		Category: model.CategoryLumL2,
	},
}

// Classify maps form fields to a lead category. Missing required fields
// short-circuit to nurture.
func Classify(f Fields) model.LeadCategory {
	if f.CurrentGrade == "" || f.ScholarshipRequirement == "" || len(f.TargetGeographies) == 0 {
		return model.CategoryNurture
	}
	for _, r := range Rules {
		if r.Match(f) {
			return r.Category
		}
	}
	return model.CategoryNurture
}

// Qualifies reports whether the category routes to a counselling call.
func Qualifies(c model.LeadCategory) bool {
	return c.Qualified()
}

// IsSpam flags clearly fabricated academic performance: a reported maximum
// for the chosen format. The check is a literal string comparison; values
// like "9.99" are not spam.
func IsSpam(f Fields) bool {
	if f.GradeFormat == model.GradeFormatGPA && f.GPAValue == "10" {
		return true
	}
	if f.GradeFormat == model.GradeFormatPercentage && f.PercentageValue == "100" {
		return true
	}
	return false
}

// SimulateStudentAsParent runs the student's self-reported fields through
// the same rule set to see what category a parent-equivalent record would
// produce. The real routing category is untouched.
func SimulateStudentAsParent(f Fields) model.LeadCategory {
	return Classify(f)
}
