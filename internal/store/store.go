// Package store persists accumulated form state keyed by session. Writes
// are idempotent upserts; a session row only ever gains fields.
package store

import (
	"context"
	"slices"

	"github.com/ivyaspire/leadtrack/internal/model"
)

// Store is the session persistence interface.
type Store interface {
	// SaveIncremental upserts the snapshot's populated fields under the
	// session id and records the funnel stage.
	SaveIncremental(ctx context.Context, sessionID string, snap model.FormSnapshot, stage model.FunnelStage) error
	// GetSession returns the stored row, or nil when the session is
	// unknown.
	GetSession(ctx context.Context, sessionID string) (map[string]any, error)

	Migrate(ctx context.Context) error
	Close() error
}

// sessionRow converts a snapshot to the store's column map. Empty fields
// are omitted entirely, never written as empty strings. Phone is the
// combined country code + number (the parts themselves are not stored) and
// email lands in parent_email.
func sessionRow(env string, s model.FormSnapshot, stage model.FunnelStage) map[string]any {
	row := map[string]any{
		"funnel_stage": string(stage),
	}
	if env != "" {
		row["environment"] = env
	}

	setStr := func(key, val string) {
		if val != "" {
			row[key] = val
		}
	}
	setStr("form_filler_type", string(s.FormFillerType))
	setStr("parent_name", s.ParentName)
	setStr("student_name", s.StudentName)
	setStr("parent_email", s.Email)
	setStr("location", s.Location)
	setStr("current_grade", s.CurrentGrade)
	setStr("grade_format", string(s.GradeFormat))
	setStr("gpa_value", s.GPAValue)
	setStr("percentage_value", s.PercentageValue)
	setStr("scholarship_requirement", s.ScholarshipRequirement)
	setStr("counselling_slot", s.CounsellingSlot)
	setStr("page_url", s.PageURL)
	setStr("lead_category", string(s.LeadCategory))

	if s.CountryCode != "" && s.PhoneNumber != "" {
		row["phone_number"] = s.CountryCode + s.PhoneNumber
	}
	if len(s.TargetGeographies) > 0 {
		row["target_geographies"] = s.TargetGeographies
	}
	// Qualification is meaningful only once a category has been assigned;
	// before that, omitting it beats writing a default false.
	if s.LeadCategory != "" {
		row["is_qualified_lead"] = s.IsQualifiedLead || s.LeadCategory.Qualified()
	}

	row["triggered_events"] = appendStage(s.TriggeredEvents, stage)

	return row
}

// appendStage appends the stage to the triggered list unless already
// present, preserving insertion order.
func appendStage(events []model.FunnelStage, stage model.FunnelStage) []string {
	out := make([]string, 0, len(events)+1)
	for _, ev := range events {
		out = append(out, string(ev))
	}
	if !slices.Contains(events, stage) {
		out = append(out, string(stage))
	}
	return out
}
