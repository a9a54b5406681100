package dto

import "time"

// CreateTestRunRequest asks to start an automated test run for a
// grouping.
type CreateTestRunRequest struct {
	TestBatchID  *uint `json:"test_batch_id"`
	SubmissionID *uint `json:"submission_id"`
}

// TestCaseData is one per-test-case row inside a run report. Output and
// ExtraInfo are nil when redacted by the viewer's visibility policy.
type TestCaseData struct {
	TestGroupName *string  `json:"test_group_name"`
	DisplayOutput *string  `json:"display_output"`
	ExtraInfo     *string  `json:"extra_info,omitempty"`
	GroupTime     *int64   `json:"group_time"`
	Name          *string  `json:"name"`
	Status        *string  `json:"status"`
	MarksEarned   *float64 `json:"marks_earned"`
	MarksTotal    *float64 `json:"marks_total"`
	Output        *string  `json:"output,omitempty"`
	Time          *int64   `json:"time"`
}

// RunReport folds all result rows of one (run, user, test group) slice
// into a single consumable entry of the grouping's test history.
type RunReport struct {
	RunID         uint           `json:"run_id"`
	CreatedAt     time.Time      `json:"created_at"`
	Problems      string         `json:"problems"`
	UserName      string         `json:"user_name"`
	TestGroupName *string        `json:"test_group_name"`
	Status        string         `json:"status"`
	TestData      []TestCaseData `json:"test_data"`
}

// TestRunResponse is the serialized form of a created run.
type TestRunResponse struct {
	ID                 uint      `json:"id"`
	GroupingID         uint      `json:"grouping_id"`
	UserID             uint      `json:"user_id"`
	RevisionIdentifier string    `json:"revision_identifier"`
	TestBatchID        *uint     `json:"test_batch_id"`
	CreatedAt          time.Time `json:"created_at"`
}
