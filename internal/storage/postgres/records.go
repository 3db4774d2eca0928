package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Extracted fields

func (s *Store) SaveExtractedFields(ctx context.Context, fields []domain.ExtractedField) error {
	if len(fields) == 0 {
		return nil
	}

	query := `
		INSERT INTO extracted_fields (
			id, document_id, application_id, field_name, field_value, field_type,
			confidence, extraction_method, page_number, extracted_at
		) VALUES (
			:id, :document_id, :application_id, :field_name, :field_value, :field_type,
			:confidence, :extraction_method, :page_number, :extracted_at
		)
	`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range fields {
			if fields[i].ID == "" {
				fields[i].ID = uuid.NewString()
			}
			if _, err := tx.NamedExecContext(ctx, query, fields[i]); err != nil {
				return fmt.Errorf("failed to save extracted field %s: %w", fields[i].FieldName, err)
			}
		}
		return nil
	})
}

func (s *Store) ListExtractedFields(ctx context.Context, applicationID string) ([]domain.ExtractedField, error) {
	query := `
		SELECT id, document_id, application_id, field_name, field_value, field_type,
		       confidence, extraction_method, page_number, extracted_at
		FROM extracted_fields
		WHERE application_id = $1
		ORDER BY extracted_at ASC, id ASC
	`

	var fields []domain.ExtractedField
	if err := s.db.SelectContext(ctx, &fields, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to list extracted fields: %w", err)
	}
	return fields, nil
}

// Validation

const resultColumns = `id, run_id, application_id, field_name, application_value, document_value,
		document_id, validation_status, mismatch_type, mismatch_severity, discrepancy_percentage,
		confidence_score, flag_for_review, validation_notes, validated_at`

type summaryRow struct {
	RunID                string    `db:"run_id"`
	ApplicationID        string    `db:"application_id"`
	TotalFields          int       `db:"total_fields"`
	ValidatedFields      int       `db:"validated_fields"`
	MismatchFields       int       `db:"mismatch_fields"`
	MissingFields        int       `db:"missing_fields"`
	FlaggedForReview     int       `db:"flagged_for_review"`
	CriticalMismatches   int       `db:"critical_mismatches"`
	SeverityCounts       []byte    `db:"severity_counts"`
	CompletionPercentage float64   `db:"completion_percentage"`
	OverallStatus        string    `db:"overall_status"`
	FormattingEnqueued   bool      `db:"formatting_enqueued"`
	CreatedAt            time.Time `db:"created_at"`
}

// SaveValidationRun writes the summary and every result of one run atomically.
func (s *Store) SaveValidationRun(ctx context.Context, summary *domain.ValidationSummary, results []domain.ValidationResult) error {
	summaryQuery := `
		INSERT INTO validation_summaries (
			run_id, application_id, total_fields, validated_fields, mismatch_fields,
			missing_fields, flagged_for_review, critical_mismatches, severity_counts,
			completion_percentage, overall_status, formatting_enqueued, created_at
		) VALUES (
			:run_id, :application_id, :total_fields, :validated_fields, :mismatch_fields,
			:missing_fields, :flagged_for_review, :critical_mismatches, :severity_counts,
			:completion_percentage, :overall_status, :formatting_enqueued, :created_at
		)
	`
	resultQuery := `
		INSERT INTO validation_results (` + resultColumns + `)
		VALUES (
			:id, :run_id, :application_id, :field_name, :application_value, :document_value,
			:document_id, :validation_status, :mismatch_type, :mismatch_severity, :discrepancy_percentage,
			:confidence_score, :flag_for_review, :validation_notes, :validated_at
		)
	`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if summary != nil {
			counts, err := json.Marshal(summary.SeverityCounts)
			if err != nil {
				return fmt.Errorf("failed to encode severity counts: %w", err)
			}
			row := summaryRow{
				RunID:                summary.RunID,
				ApplicationID:        summary.ApplicationID,
				TotalFields:          summary.TotalFields,
				ValidatedFields:      summary.ValidatedFields,
				MismatchFields:       summary.MismatchFields,
				MissingFields:        summary.MissingFields,
				FlaggedForReview:     summary.FlaggedForReview,
				CriticalMismatches:   summary.CriticalMismatches,
				SeverityCounts:       counts,
				CompletionPercentage: summary.CompletionPercentage,
				OverallStatus:        summary.OverallStatus,
				FormattingEnqueued:   summary.FormattingEnqueued,
				CreatedAt:            summary.CreatedAt,
			}
			if _, err := tx.NamedExecContext(ctx, summaryQuery, row); err != nil {
				return fmt.Errorf("failed to save validation summary: %w", err)
			}
		}

		for i := range results {
			if results[i].ID == "" {
				results[i].ID = uuid.NewString()
			}
			if _, err := tx.NamedExecContext(ctx, resultQuery, results[i]); err != nil {
				return fmt.Errorf("failed to save validation result %s: %w", results[i].FieldName, err)
			}
		}
		return nil
	})
}

// LatestValidationResults returns the most recent result per field, ordered by field name.
func (s *Store) LatestValidationResults(ctx context.Context, applicationID string) ([]domain.ValidationResult, error) {
	query := `
		SELECT DISTINCT ON (field_name) ` + resultColumns + `
		FROM validation_results
		WHERE application_id = $1
		ORDER BY field_name ASC, validated_at DESC
	`

	var results []domain.ValidationResult
	if err := s.db.SelectContext(ctx, &results, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to get validation results: %w", err)
	}
	return results, nil
}

// MarkFormattingEnqueued flags a stored run once its formatting job exists.
func (s *Store) MarkFormattingEnqueued(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_summaries SET formatting_enqueued = TRUE WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to mark formatting enqueued: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrValidationMissing
	}
	return nil
}

func (s *Store) LatestValidationSummary(ctx context.Context, applicationID string) (*domain.ValidationSummary, error) {
	query := `
		SELECT run_id, application_id, total_fields, validated_fields, mismatch_fields,
		       missing_fields, flagged_for_review, critical_mismatches, severity_counts,
		       completion_percentage, overall_status, formatting_enqueued, created_at
		FROM validation_summaries
		WHERE application_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var row summaryRow
	if err := s.db.GetContext(ctx, &row, query, applicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrValidationMissing
		}
		return nil, fmt.Errorf("failed to get validation summary: %w", err)
	}

	counts := map[domain.Severity]int{}
	if len(row.SeverityCounts) > 0 {
		if err := json.Unmarshal(row.SeverityCounts, &counts); err != nil {
			return nil, fmt.Errorf("failed to decode severity counts: %w", err)
		}
	}

	return &domain.ValidationSummary{
		RunID:                row.RunID,
		ApplicationID:        row.ApplicationID,
		TotalFields:          row.TotalFields,
		ValidatedFields:      row.ValidatedFields,
		MismatchFields:       row.MismatchFields,
		MissingFields:        row.MissingFields,
		FlaggedForReview:     row.FlaggedForReview,
		CriticalMismatches:   row.CriticalMismatches,
		SeverityCounts:       counts,
		CompletionPercentage: row.CompletionPercentage,
		OverallStatus:        row.OverallStatus,
		FormattingEnqueued:   row.FormattingEnqueued,
		CreatedAt:            row.CreatedAt,
	}, nil
}

// Golden records

const goldenColumns = `id, application_id, field_name, field_value, field_type, data_source,
		source_document_id, validation_status, confidence_score, is_verified, verification_notes, created_at`

func (s *Store) SaveGoldenRecords(ctx context.Context, records []domain.GoldenRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO golden_records (` + goldenColumns + `)
		VALUES (
			:id, :application_id, :field_name, :field_value, :field_type, :data_source,
			:source_document_id, :validation_status, :confidence_score, :is_verified, :verification_notes, :created_at
		)
	`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for i := range records {
			if records[i].ID == "" {
				records[i].ID = uuid.NewString()
			}
			if _, err := tx.NamedExecContext(ctx, query, records[i]); err != nil {
				return fmt.Errorf("failed to save golden record %s: %w", records[i].FieldName, err)
			}
		}
		return nil
	})
}

// LatestGoldenRecords returns the newest record per field, ordered by field name.
func (s *Store) LatestGoldenRecords(ctx context.Context, applicationID string) ([]domain.GoldenRecord, error) {
	query := `
		SELECT DISTINCT ON (field_name) ` + goldenColumns + `
		FROM golden_records
		WHERE application_id = $1
		ORDER BY field_name ASC, created_at DESC
	`

	var records []domain.GoldenRecord
	if err := s.db.SelectContext(ctx, &records, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to get golden records: %w", err)
	}
	return records, nil
}

// Processing logs

func (s *Store) LogProcessing(ctx context.Context, entry domain.ProcessingLog) error {
	query := `
		INSERT INTO processing_logs (
			application_id, document_id, agent_name, step_name, status, message, processing_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ApplicationID,
		entry.DocumentID,
		entry.Agent,
		entry.Step,
		entry.Status,
		entry.Message,
		entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to write processing log: %w", err)
	}
	return nil
}
