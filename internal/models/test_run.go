package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	// DisplayOutputPublic shows test output to everyone.
	DisplayOutputPublic = "public"
	// DisplayOutputInstructors hides test output from students.
	DisplayOutputInstructors = "instructors"
	// DisplayOutputInstructorsAndStudentTests hides instructor-run output
	// from the released view but lets students see their own runs.
	DisplayOutputInstructorsAndStudentTests = "instructors_and_student_tests"
)

const (
	// TestRunStatusInProgress means no results have come back yet.
	TestRunStatusInProgress = "in_progress"
	// TestRunStatusComplete means all test groups reported results.
	TestRunStatusComplete = "complete"
	// TestRunStatusProblems means at least one result reported an error.
	TestRunStatusProblems = "problems"
)

const (
	// TestResultStatusPass marks a passing test case.
	TestResultStatusPass = "pass"
	// TestResultStatusFail marks a failing test case.
	TestResultStatusFail = "fail"
	// TestResultStatusError marks a test case that could not run.
	TestResultStatusError = "error"
)

// TestBatch groups test runs triggered together across groupings.
type TestBatch struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TestRun is one request to execute the automated tests against a
// grouping's repository revision. Rows are immutable once created; status
// is derived from the associated results.
type TestRun struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	GroupingID         uint      `gorm:"not null;index" json:"grouping_id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	RevisionIdentifier string    `gorm:"size:255;not null" json:"revision_identifier"`
	TestBatchID        *uint     `gorm:"index" json:"test_batch_id"`
	SubmissionID       *uint     `gorm:"index" json:"submission_id"`
	Problems           string    `gorm:"type:text" json:"problems"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	User             User              `json:"user,omitempty"`
	TestGroupResults []TestGroupResult `gorm:"constraint:OnDelete:CASCADE" json:"test_group_results,omitempty"`
}

// TestGroup is one named bundle of test cases configured for an
// assignment, with a visibility policy for its output.
type TestGroup struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	AssignmentID  uint              `gorm:"not null;index" json:"assignment_id"`
	Name          string            `gorm:"size:255;not null" json:"name"`
	DisplayOutput string            `gorm:"size:64;not null;default:instructors" json:"display_output"`
	Config        datatypes.JSONMap `gorm:"type:json" json:"config"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// TestGroupResult holds the outcome of one test group within one run.
type TestGroupResult struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	TestRunID   uint      `gorm:"not null;index" json:"test_run_id"`
	TestGroupID uint      `gorm:"not null;index" json:"test_group_id"`
	ExtraInfo   string    `gorm:"type:text" json:"extra_info"`
	Time        int64     `gorm:"not null;default:0" json:"time"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	TestGroup   TestGroup    `json:"test_group,omitempty"`
	TestResults []TestResult `gorm:"constraint:OnDelete:CASCADE" json:"test_results,omitempty"`
}

// TestResult is a single test case outcome inside a test group result.
type TestResult struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	TestGroupResultID uint      `gorm:"not null;index" json:"test_group_result_id"`
	Name              string    `gorm:"size:255;not null" json:"name"`
	Status            string    `gorm:"size:32;not null" json:"status"`
	MarksEarned       float64   `gorm:"not null;default:0" json:"marks_earned"`
	MarksTotal        float64   `gorm:"not null;default:0" json:"marks_total"`
	Output            string    `gorm:"type:text" json:"output"`
	Time              int64     `gorm:"not null;default:0" json:"time"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
