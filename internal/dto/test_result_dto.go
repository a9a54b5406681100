package dto

import (
	"encoding/xml"
	"time"

	"github.com/courseforge/courseforge-api/internal/models"
)

// TestResultCreateRequest carries a new test result pushed by the
// autotest worker.
type TestResultCreateRequest struct {
	Name        string  `json:"name" validate:"required"`
	Status      string  `json:"status" validate:"required,oneof=pass fail error"`
	MarksEarned float64 `json:"marks_earned" validate:"gte=0"`
	MarksTotal  float64 `json:"marks_total" validate:"gte=0"`
	Output      string  `json:"output"`
	Time        int64   `json:"time" validate:"gte=0"`
}

// TestResultUpdateRequest carries a partial update of a test result.
type TestResultUpdateRequest struct {
	Name        *string  `json:"name"`
	Status      *string  `json:"status" validate:"omitempty,oneof=pass fail error"`
	MarksEarned *float64 `json:"marks_earned" validate:"omitempty,gte=0"`
	MarksTotal  *float64 `json:"marks_total" validate:"omitempty,gte=0"`
	Output      *string  `json:"output"`
	Time        *int64   `json:"time" validate:"omitempty,gte=0"`
}

// TestResultResponse is the serialized form of one test result. It
// renders as either JSON or XML depending on content negotiation.
type TestResultResponse struct {
	XMLName     xml.Name  `xml:"test_result" json:"-"`
	ID          uint      `xml:"id" json:"id"`
	Name        string    `xml:"name" json:"name"`
	Status      string    `xml:"status" json:"status"`
	MarksEarned float64   `xml:"marks_earned" json:"marks_earned"`
	MarksTotal  float64   `xml:"marks_total" json:"marks_total"`
	Output      string    `xml:"output" json:"output"`
	Time        int64     `xml:"time" json:"time"`
	CreatedAt   time.Time `xml:"created_at" json:"created_at"`
}

// TestResultListResponse wraps a list of test results for XML rendering.
type TestResultListResponse struct {
	XMLName xml.Name             `xml:"test_results" json:"-"`
	Results []TestResultResponse `xml:"test_result" json:"test_results"`
}

// NewTestResultResponse maps a test result model to its response shape.
func NewTestResultResponse(result models.TestResult) TestResultResponse {
	return TestResultResponse{
		ID:          result.ID,
		Name:        result.Name,
		Status:      result.Status,
		MarksEarned: result.MarksEarned,
		MarksTotal:  result.MarksTotal,
		Output:      result.Output,
		Time:        result.Time,
		CreatedAt:   result.CreatedAt,
	}
}

// NewTestResultListResponse maps a slice of test result models.
func NewTestResultListResponse(results []models.TestResult) TestResultListResponse {
	response := TestResultListResponse{Results: make([]TestResultResponse, 0, len(results))}
	for _, result := range results {
		response.Results = append(response.Results, NewTestResultResponse(result))
	}
	return response
}
