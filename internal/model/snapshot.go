package model

// LeadCategory is the business segment a lead is routed to.
type LeadCategory string

const (
	CategoryNurture LeadCategory = "nurture"
	CategoryBCH     LeadCategory = "bch"
	CategoryLumL1   LeadCategory = "lum-l1"
	CategoryLumL2   LeadCategory = "lum-l2"
)

// Qualified reports whether the category routes to a counselling call
// rather than the nurture track.
func (c LeadCategory) Qualified() bool {
	switch c {
	case CategoryBCH, CategoryLumL1, CategoryLumL2:
		return true
	}
	return false
}

// FillerType says who is filling the form.
type FillerType string

const (
	FillerParent  FillerType = "parent"
	FillerStudent FillerType = "student"
)

// GradeFormat discriminates how academic performance was reported.
type GradeFormat string

const (
	GradeFormatGPA        GradeFormat = "gpa"
	GradeFormatPercentage GradeFormat = "percentage"
)

// Scholarship requirement values as submitted by the form.
const (
	ScholarshipOptional = "scholarship_optional"
	ScholarshipPartial  = "partial_scholarship"
	ScholarshipFull     = "full_scholarship"
)

// FunnelStage is a named checkpoint in the multi-step lead form, used both
// for analytics event naming and for incremental persistence.
type FunnelStage string

const (
	StageFormStart            FunnelStage = "01_form_start"
	StagePage1StudentInfo     FunnelStage = "02_page1_student_info_filled"
	StagePage1AcademicInfo    FunnelStage = "03_page1_academic_info_filled"
	StagePage1ScholarshipInfo FunnelStage = "04_page1_scholarship_info_filled"
	StagePage1Complete        FunnelStage = "05_page1_complete"
	StageLeadEvaluated        FunnelStage = "06_lead_evaluated"
	StagePage2View            FunnelStage = "07_page_2_view"
	StagePage2CounsellingSlot FunnelStage = "08_page_2_counselling_slot_selected"
	StagePage2ParentDetails   FunnelStage = "09_page_2_parent_details_filled"
	StageFormSubmit           FunnelStage = "10_form_submit"
)

// FormSnapshot is the accumulated, partial record of user input across the
// two form pages. Fields are only ever appended or overwritten as the user
// progresses, never rolled back. Every field is optional.
type FormSnapshot struct {
	SessionID              string        `json:"sessionId,omitempty"`
	FormFillerType         FillerType    `json:"formFillerType,omitempty"`
	ParentName             string        `json:"parentName,omitempty"`
	StudentName            string        `json:"studentName,omitempty"`
	Email                  string        `json:"email,omitempty"`
	CountryCode            string        `json:"countryCode,omitempty"`
	PhoneNumber            string        `json:"phoneNumber,omitempty"`
	Location               string        `json:"location,omitempty"`
	CurrentGrade           string        `json:"currentGrade,omitempty"`
	GradeFormat            GradeFormat   `json:"gradeFormat,omitempty"`
	GPAValue               string        `json:"gpaValue,omitempty"`
	PercentageValue        string        `json:"percentageValue,omitempty"`
	ScholarshipRequirement string        `json:"scholarshipRequirement,omitempty"`
	TargetGeographies      []string      `json:"targetGeographies,omitempty"`
	CounsellingSlot        string        `json:"counsellingSlot,omitempty"`
	PageURL                string        `json:"pageUrl,omitempty"`
	LeadCategory           LeadCategory  `json:"leadCategory,omitempty"`
	IsQualifiedLead        bool          `json:"isQualifiedLead,omitempty"`
	TriggeredEvents        []FunnelStage `json:"triggeredEvents,omitempty"`
}
