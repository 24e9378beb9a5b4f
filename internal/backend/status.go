package backend

import (
	"context"
	"database/sql"
	"strings"
)

// VariantStatus is the connectivity check result for one (kind, variant) pool.
type VariantStatus struct {
	Variant    Variant `json:"variant"`
	Configured bool    `json:"configured"`
	Connected  bool    `json:"connected"`
	Database   string  `json:"database,omitempty"`
	Message    string  `json:"message"`
}

// Status checks both variants of kind. Unconfigured variants are reported
// without opening anything.
func (r *Registry) Status(ctx context.Context, kind Kind) ([]VariantStatus, error) {
	kind, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}

	statuses := make([]VariantStatus, 0, len(Variants))
	for _, variant := range Variants {
		status := VariantStatus{Variant: variant}
		if !r.Configured(kind, variant) {
			status.Message = (&NotConfiguredError{Kind: kind, Variant: variant, Key: ConfigKey(kind, variant)}).Error()
			statuses = append(statuses, status)
			continue
		}
		status.Configured = true

		handle, err := r.Resolve(ctx, kind, variant)
		if err != nil {
			status.Message = err.Error()
			statuses = append(statuses, status)
			continue
		}

		var one any
		if err := handle.DB.QueryRowContext(ctx, kind.PingQuery()).Scan(&one); err != nil {
			status.Message = "connection failed: " + err.Error()
			statuses = append(statuses, status)
			continue
		}
		status.Connected = true
		status.Message = "connection ok"
		status.Database = currentDatabase(ctx, handle.DB, kind)
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func currentDatabase(ctx context.Context, db *sql.DB, kind Kind) string {
	var name sql.NullString
	if err := db.QueryRowContext(ctx, kind.DatabaseNameQuery()).Scan(&name); err != nil {
		return "-"
	}
	if !name.Valid || strings.TrimSpace(name.String) == "" {
		return "-"
	}
	return name.String
}
