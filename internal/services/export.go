package services

import (
	"context"
	"fmt"

	"github.com/openclass/quiz-session-service/internal/i18n"
	"github.com/openclass/quiz-session-service/internal/repositories"
	"github.com/xuri/excelize/v2"
)

const exportSheetName = "Attempt History"

// ExportHistory renders the user's full attempt history as an XLSX workbook.
func (s *sessionService) ExportHistory(ctx context.Context, userID string) ([]byte, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	attempts, _, err := s.repo.Attempt().GetByUser(ctx, userID, repositories.AttemptFilters{
		SortBy:    "created_at",
		SortOrder: "desc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headers := []string{"Quiz", "Score", "Total", "Percentage", "Passed", "Reward", "Submitted At"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to build header cell: %w", err)
		}
		if err := f.SetCellValue(exportSheetName, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell: %w", err)
		}
	}

	for row, attempt := range attempts {
		percentage := 0.0
		if attempt.Total > 0 {
			percentage = float64(attempt.Score) / float64(attempt.Total) * 100
		}
		values := []interface{}{
			i18n.Resolve(attempt.Quiz.Title, user.Language, s.defaultLanguage),
			attempt.Score,
			attempt.Total,
			fmt.Sprintf("%.1f%%", percentage),
			attempt.Passed,
			attempt.Reward,
			attempt.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, fmt.Errorf("failed to build cell: %w", err)
			}
			if err := f.SetCellValue(exportSheetName, cell, value); err != nil {
				return nil, fmt.Errorf("failed to set cell: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
