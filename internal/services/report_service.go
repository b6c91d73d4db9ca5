package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/learnsphere/test-engine/internal/models"
	"github.com/learnsphere/test-engine/internal/repositories"
)

const resultsSheetName = "Results"

var resultsHeader = []string{
	"Attempt ID", "User ID", "User Name", "Attempt #", "Started At",
	"Submitted At", "Time Spent (s)", "Score", "Max Score", "Percentage",
	"Passed", "Manual Review",
}

type reportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewReportService(repo repositories.Repository, logger *slog.Logger) ReportService {
	return &reportService{
		repo:   repo,
		logger: logger,
	}
}

func (s *reportService) ExportTestResults(ctx context.Context, testID uint, requesterID string) ([]byte, string, error) {
	test, err := s.repo.Test().GetByID(ctx, nil, testID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, "", ErrTestNotFound
		}
		return nil, "", fmt.Errorf("failed to get test: %w", err)
	}

	if err := s.checkExportPermission(ctx, test, requesterID); err != nil {
		return nil, "", err
	}

	attempts, err := s.repo.Attempt().GetFinalizedByTest(ctx, nil, testID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load finalized attempts: %w", err)
	}

	data, err := buildResultsWorkbook(test, attempts)
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("test_%d_results_%s.xlsx", testID, time.Now().Format("2006-01-02"))
	s.logger.Info("Exported test results",
		"test_id", testID, "requester_id", requesterID, "attempts", len(attempts))
	return data, filename, nil
}

// checkExportPermission allows the test owner and any teacher or admin.
func (s *reportService) checkExportPermission(ctx context.Context, test *models.Test, requesterID string) error {
	if test.CreatedBy == requesterID {
		return nil
	}
	for _, role := range []models.UserRole{models.RoleAdmin, models.RoleTeacher} {
		ok, err := s.repo.User().HasRole(ctx, requesterID, role)
		if err != nil {
			return fmt.Errorf("permission check failed: %w", err)
		}
		if ok {
			return nil
		}
	}
	return NewPermissionError(requesterID, test.ID, "test", "export", "not the test owner")
}

func buildResultsWorkbook(test *models.Test, attempts []*models.TestAttempt) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheetName); err != nil {
		return nil, fmt.Errorf("failed to prepare workbook: %w", err)
	}

	for col, title := range resultsHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(resultsSheetName, cell, title); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, attempt := range attempts {
		values := []interface{}{
			attempt.ID,
			attempt.UserID,
			attempt.User.FullName,
			attempt.AttemptNumber,
			attempt.StartedAt.Format(time.RFC3339),
			formatTimePtr(attempt.SubmittedAt),
			attempt.TimeSpentSeconds,
			attempt.Score,
			attempt.MaxScore,
			attempt.PercentageScore,
			attempt.Passed,
			attemptNeedsReview(attempt),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(resultsSheetName, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	summarySheet := "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to add summary sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Test", test.Title},
		{"Finalized attempts", len(attempts)},
		{"Average score", test.AverageScore},
		{"Pass rate (%)", test.PassRate},
		{"Passing threshold (%)", test.PassingScorePercent},
	}
	for row, pair := range summary {
		for col, value := range pair {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+1)
			if err := f.SetCellValue(summarySheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write summary: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func attemptNeedsReview(attempt *models.TestAttempt) bool {
	for _, a := range attempt.Answers {
		if a.RequiresManualReview {
			return true
		}
	}
	return false
}
