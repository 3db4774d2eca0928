package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/mortgage-recon/internal/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Document status values in RequiredDocuments.
const (
	DocumentUploaded = "uploaded"
	DocumentMissing  = "missing"
)

// Field priorities in MissingFields. Fields a mandatory document can supply are high.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

const maxRecommendations = 5

// RequiredDocument is one mandatory document type and whether it has been uploaded.
type RequiredDocument struct {
	DocumentType    string     `json:"document_type"`
	DisplayName     string     `json:"display_name"`
	Status          string     `json:"status"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	AvailableFields []string   `json:"available_fields"`
}

// RequiredDocuments is the mandatory document checklist of an application.
type RequiredDocuments struct {
	ApplicationID string             `json:"application_id"`
	Documents     []RequiredDocument `json:"required_documents"`
	TotalRequired int                `json:"total_required"`
	Uploaded      int                `json:"uploaded"`
	Missing       int                `json:"missing"`
}

// DocumentHint names a document type that can supply a field.
type DocumentHint struct {
	DocumentType string `json:"document_type"`
	DisplayName  string `json:"display_name"`
	Priority     string `json:"priority"`
}

// MissingField is a catalog field no document has produced yet.
type MissingField struct {
	FieldName          string         `json:"field_name"`
	DisplayName        string         `json:"field_display_name"`
	AvailableDocuments []DocumentHint `json:"available_documents"`
	Priority           string         `json:"priority"`
	IsCritical         bool           `json:"is_critical"`
}

// Recommendation is a document type worth uploading next.
type Recommendation struct {
	DocumentType       string   `json:"document_type"`
	DisplayName        string   `json:"display_name"`
	Priority           string   `json:"priority"`
	MissingFieldsCount int      `json:"missing_fields_count"`
	MissingFields      []string `json:"missing_fields"`
}

// MissingFields lists unextracted fields and the documents that could fill them.
type MissingFields struct {
	ApplicationID        string           `json:"application_id"`
	Fields               []MissingField   `json:"missing_fields"`
	TotalMissing         int              `json:"total_missing_fields"`
	CriticalMissing      int              `json:"critical_missing_fields"`
	CompletionPercentage float64          `json:"completion_percentage"`
	Recommended          []Recommendation `json:"recommended_documents"`
}

var titleCaser = cases.Title(language.English)

// DisplayName turns a snake_case identifier into title case.
func DisplayName(name string) string {
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(name), "_", " "))
}

// RequiredDocuments checks the mandatory document types against the uploads.
func (o *Orchestrator) RequiredDocuments(ctx context.Context, applicationID string) (*RequiredDocuments, error) {
	if _, err := o.store.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	docs, err := o.store.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	firstUpload := map[string]time.Time{}
	for _, d := range docs {
		if at, ok := firstUpload[d.DocumentType]; !ok || d.UploadedAt.Before(at) {
			firstUpload[d.DocumentType] = d.UploadedAt
		}
	}

	out := &RequiredDocuments{ApplicationID: applicationID, Documents: []RequiredDocument{}}
	for _, docType := range o.cfg.MandatoryDocuments() {
		rd := RequiredDocument{
			DocumentType:    docType,
			DisplayName:     DisplayName(docType),
			Status:          DocumentMissing,
			AvailableFields: aliases(o.cfg.Documents[docType].Queries),
		}
		if at, ok := firstUpload[docType]; ok {
			rd.Status = DocumentUploaded
			rd.UploadedAt = &at
			out.Uploaded++
		} else {
			out.Missing++
		}
		out.Documents = append(out.Documents, rd)
	}
	out.TotalRequired = len(out.Documents)
	return out, nil
}

// MissingFields compares every field the document catalog can extract with what was extracted.
func (o *Orchestrator) MissingFields(ctx context.Context, applicationID string) (*MissingFields, error) {
	fs, err := o.FieldStatus(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	// Step 1: Map each catalog field to the document types that ask for it
	sources := map[string][]DocumentHint{}
	docTypes := make([]string, 0, len(o.cfg.Documents))
	for docType := range o.cfg.Documents {
		docTypes = append(docTypes, docType)
	}
	sort.Strings(docTypes)
	for _, docType := range docTypes {
		dc := o.cfg.Documents[docType]
		priority := PriorityMedium
		if dc.Mandatory {
			priority = PriorityHigh
		}
		seen := map[string]bool{}
		for _, q := range dc.Queries {
			if q.Alias == "" || seen[q.Alias] {
				continue
			}
			seen[q.Alias] = true
			sources[q.Alias] = append(sources[q.Alias], DocumentHint{
				DocumentType: docType,
				DisplayName:  DisplayName(docType),
				Priority:     priority,
			})
		}
	}

	// Step 2: Keep the fields nothing has produced
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &MissingFields{ApplicationID: applicationID, Fields: []MissingField{}}
	for _, name := range names {
		if len(fs.Extracted[name]) > 0 {
			continue
		}
		mf := MissingField{
			FieldName:          name,
			DisplayName:        DisplayName(name),
			AvailableDocuments: sources[name],
			Priority:           PriorityMedium,
		}
		for _, h := range sources[name] {
			if h.Priority == PriorityHigh {
				mf.Priority = PriorityHigh
				mf.IsCritical = true
				break
			}
		}
		out.Fields = append(out.Fields, mf)
		if mf.IsCritical {
			out.CriticalMissing++
		}
	}
	sort.SliceStable(out.Fields, func(i, j int) bool {
		return out.Fields[i].IsCritical && !out.Fields[j].IsCritical
	})

	out.TotalMissing = len(out.Fields)
	out.CompletionPercentage = percent(len(names)-out.TotalMissing, len(names))
	out.Recommended = recommend(out.Fields)
	return out, nil
}

// recommend ranks document types by priority, then by how many missing fields they supply.
func recommend(fields []MissingField) []Recommendation {
	byType := map[string]*Recommendation{}
	var order []string
	for _, f := range fields {
		for _, h := range f.AvailableDocuments {
			r, ok := byType[h.DocumentType]
			if !ok {
				r = &Recommendation{DocumentType: h.DocumentType, DisplayName: h.DisplayName, Priority: h.Priority}
				byType[h.DocumentType] = r
				order = append(order, h.DocumentType)
			}
			r.MissingFieldsCount++
			r.MissingFields = append(r.MissingFields, f.FieldName)
		}
	}

	out := make([]Recommendation, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].Priority == PriorityHigh, out[j].Priority == PriorityHigh
		if hi != hj {
			return hi
		}
		return out[i].MissingFieldsCount > out[j].MissingFieldsCount
	})
	if len(out) > maxRecommendations {
		out = out[:maxRecommendations]
	}
	return out
}

func aliases(queries []config.QueryConfig) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, q := range queries {
		if q.Alias != "" && !seen[q.Alias] {
			seen[q.Alias] = true
			out = append(out, q.Alias)
		}
	}
	return out
}
