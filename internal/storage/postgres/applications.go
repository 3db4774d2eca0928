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
	"github.com/lib/pq"
)

type applicationRow struct {
	ApplicationID        string         `db:"application_id"`
	Status               string         `db:"status"`
	FormData             []byte         `db:"form_data"`
	FormFieldOrder       pq.StringArray `db:"form_field_order"`
	CompletionPercentage *float64       `db:"completion_percentage"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r *applicationRow) toDomain() (*domain.Application, error) {
	form := map[string]string{}
	if len(r.FormData) > 0 {
		if err := json.Unmarshal(r.FormData, &form); err != nil {
			return nil, fmt.Errorf("failed to decode form data: %w", err)
		}
	}
	return &domain.Application{
		ApplicationID:        r.ApplicationID,
		Status:               r.Status,
		FormData:             form,
		FormFieldOrder:       []string(r.FormFieldOrder),
		CompletionPercentage: r.CompletionPercentage,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

// CreateApplication inserts or replaces an application and its form data.
func (s *Store) CreateApplication(ctx context.Context, app *domain.Application) error {
	form, err := json.Marshal(app.FormData)
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}

	query := `
		INSERT INTO applications (
			application_id, status, form_data, form_field_order,
			completion_percentage, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (application_id) DO UPDATE
		SET status = EXCLUDED.status,
		    form_data = EXCLUDED.form_data,
		    form_field_order = EXCLUDED.form_field_order,
		    completion_percentage = EXCLUDED.completion_percentage,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		app.ApplicationID,
		app.Status,
		form,
		pq.Array(app.FormFieldOrder),
		app.CompletionPercentage,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, applicationID string) (*domain.Application, error) {
	query := `
		SELECT application_id, status, form_data, form_field_order,
		       completion_percentage, created_at, updated_at
		FROM applications
		WHERE application_id = $1
	`

	var row applicationRow
	if err := s.db.GetContext(ctx, &row, query, applicationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return row.toDomain()
}

// UpdateApplicationStatus sets the status. A nil completion leaves the percentage as is.
func (s *Store) UpdateApplicationStatus(ctx context.Context, applicationID, status string, completion *float64) error {
	query := `
		UPDATE applications
		SET status = $1,
		    completion_percentage = COALESCE($2, completion_percentage),
		    updated_at = NOW()
		WHERE application_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, status, completion, applicationID)
	if err != nil {
		return fmt.Errorf("failed to update application status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrApplicationNotFound
	}
	return nil
}

func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM applications GROUP BY status`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count applications: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Documents

const documentColumns = `id, application_id, filename, document_type, applicant_type, file_size,
		mime_type, storage_path, processing_status, status_message, uploaded_at`

func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES (
			:id, :application_id, :filename, :document_type, :applicant_type, :file_size,
			:mime_type, :storage_path, :processing_status, :status_message, :uploaded_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	var doc domain.Document
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if err := s.db.GetContext(ctx, &doc, query, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, applicationID string) ([]domain.Document, error) {
	var docs []domain.Document
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE application_id = $1
		ORDER BY uploaded_at ASC, id ASC
	`
	if err := s.db.SelectContext(ctx, &docs, query, applicationID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, documentID, status string, message *string) error {
	query := `
		UPDATE documents
		SET processing_status = $1, status_message = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, status, message, documentID)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}
