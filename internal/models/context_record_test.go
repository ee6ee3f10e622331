package models

import (
	"strings"
	"testing"
	"time"
)

func validFields() *ExtractedFields {
	return &ExtractedFields{
		Feature:      "Authentication",
		Decision:     "JWT over sessions",
		Tasks:        []string{"add middleware", "rotate keys"},
		Stage:        StageFeatureDevelopment,
		Risk:         "token expiry edge cases",
		Confidence:   0.85,
		Entities:     []string{"auth/jwt.go"},
		ModelVersion: "extractor-v1",
	}
}

func TestExtractedFieldsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ExtractedFields)
		wantErr string
	}{
		{"valid", func(f *ExtractedFields) {}, ""},
		{"missing feature", func(f *ExtractedFields) { f.Feature = "" }, "feature"},
		{"unknown stage", func(f *ExtractedFields) { f.Stage = "vibing" }, "stage"},
		{"empty stage", func(f *ExtractedFields) { f.Stage = "" }, "stage"},
		{"confidence too high", func(f *ExtractedFields) { f.Confidence = 1.01 }, "confidence"},
		{"confidence negative", func(f *ExtractedFields) { f.Confidence = -0.01 }, "confidence"},
		{"confidence boundary low", func(f *ExtractedFields) { f.Confidence = 0 }, ""},
		{"confidence boundary high", func(f *ExtractedFields) { f.Confidence = 1 }, ""},
		{"missing model version", func(f *ExtractedFields) { f.ModelVersion = "" }, "model version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFields()
			tt.mutate(f)
			err := f.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNilExtractedFieldsInvalid(t *testing.T) {
	var f *ExtractedFields
	if f.Validate() == nil {
		t.Error("Nil extraction output must not validate")
	}
}

func TestSummaryDeterministic(t *testing.T) {
	a := validFields().Summary()
	b := validFields().Summary()
	if a != b {
		t.Error("Identical fields must produce identical summaries")
	}

	for _, part := range []string{"Authentication", StageFeatureDevelopment, "JWT over sessions", "add middleware", "token expiry"} {
		if !strings.Contains(a, part) {
			t.Errorf("Summary missing %q:\n%s", part, a)
		}
	}

	changed := validFields()
	changed.Decision = "sessions after all"
	if changed.Summary() == a {
		t.Error("Different decisions must change the summary")
	}
}

func TestSummaryOmitsEmptySections(t *testing.T) {
	minimal := &ExtractedFields{Feature: "Auth", Stage: StageTesting, Confidence: 0.5, ModelVersion: "v1"}
	s := minimal.Summary()
	for _, absent := range []string{"Decision:", "Tasks:", "Risk:", "Entities:"} {
		if strings.Contains(s, absent) {
			t.Errorf("Summary must omit empty section %s:\n%s", absent, s)
		}
	}
}

func TestValidStage(t *testing.T) {
	for _, stage := range []string{StageSetup, StageFeatureDevelopment, StageRefactoring, StageBugFix, StageTesting, StageDocumentation} {
		if !ValidStage(stage) {
			t.Errorf("Stage %q should be valid", stage)
		}
	}
	for _, stage := range []string{"", "deploy", "FEATURE_DEVELOPMENT"} {
		if ValidStage(stage) {
			t.Errorf("Stage %q should be invalid", stage)
		}
	}
}

func TestIsClaimable(t *testing.T) {
	rec := &ContextRecord{Status: StatusUncommitted}
	if !rec.IsClaimable() {
		t.Error("Uncommitted records are claimable")
	}
	for _, status := range []string{StatusComplete, StatusStale} {
		rec.Status = status
		if rec.IsClaimable() {
			t.Errorf("%s records are not claimable", status)
		}
	}
}

func TestPushEventValidate(t *testing.T) {
	valid := func() *PushEvent {
		return &PushEvent{
			EventID:    "e1",
			ProjectID:  "proj-1",
			Branch:     "feature/auth",
			Author:     "alice",
			CommitHash: "a1b2c3d4e5f6a7b8c9d0a1b2c3d4e5f6a7b8c9d0",
			Timestamp:  time.Now().UTC(),
			Message:    "add jwt",
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Valid event rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*PushEvent)
	}{
		{"missing event id", func(e *PushEvent) { e.EventID = "" }},
		{"missing project", func(e *PushEvent) { e.ProjectID = "" }},
		{"missing branch", func(e *PushEvent) { e.Branch = "" }},
		{"missing author", func(e *PushEvent) { e.Author = "" }},
		{"short commit hash", func(e *PushEvent) { e.CommitHash = "a1b2c3" }},
		{"uppercase commit hash", func(e *PushEvent) { e.CommitHash = strings.ToUpper(e.CommitHash) }},
		{"zero timestamp", func(e *PushEvent) { e.Timestamp = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			if e.Validate() == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestReasoningSubmissionBundle(t *testing.T) {
	sub := &ReasoningSubmission{
		ProjectID:   "proj-1",
		Branch:      "feature/auth",
		Author:      "alice",
		Reasoning:   "chose jwt",
		Decision:    "jwt",
		Tasks:       []string{"middleware"},
		Risk:        "expiry",
		SubmittedAt: time.Now().UTC(),
	}
	if err := sub.Validate(); err != nil {
		t.Fatalf("Valid submission rejected: %v", err)
	}

	b := sub.Bundle()
	if b.Reasoning != "chose jwt" || b.Decision != "jwt" || len(b.Tasks) != 1 || b.Risk != "expiry" {
		t.Errorf("Bundle lost fields: %+v", b)
	}

	sub.Reasoning = ""
	if sub.Validate() == nil {
		t.Error("Submission without reasoning text must be rejected")
	}
}
