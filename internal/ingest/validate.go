// Package ingest gates uploaded files before any campaign is created.
package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadscore/internal/failure"
	"github.com/sells-group/leadscore/internal/model"
	"github.com/sells-group/leadscore/internal/tabular"
)

// Upload is a file submitted for scoring together with the campaign name.
type Upload struct {
	Filename     string
	ContentType  string
	Size         int64
	Data         []byte
	CampaignName string
}

// Limits bounds what an upload may contain.
type Limits struct {
	MaxFileBytes int64
	MaxRows      int
}

// Validator enforces upload and schema limits.
type Validator struct {
	limits Limits
}

// NewValidator creates a Validator with the given limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns the configured limits.
func (v *Validator) Limits() Limits {
	return v.limits
}

// CheckUpload rejects uploads that are missing, unnamed, of the wrong kind,
// empty or too large. It never looks at the file content.
func (v *Validator) CheckUpload(u *Upload) error {
	if u == nil || (u.Filename == "" && u.Data == nil) {
		return failure.Validation("File is required", nil)
	}
	if strings.TrimSpace(u.CampaignName) == "" {
		return failure.Validation("Campaign name is required", nil)
	}
	if !LooksTabular(u.ContentType, u.Filename) {
		return failure.Validation("File must be a CSV", map[string]any{
			"contentType": u.ContentType,
			"filename":    u.Filename,
		})
	}

	size := u.Size
	if size == 0 {
		size = int64(len(u.Data))
	}
	if size > v.limits.MaxFileBytes {
		return TooLarge(size, v.limits.MaxFileBytes)
	}
	if size == 0 {
		return failure.Validation("File is empty", nil)
	}
	return nil
}

// TooLarge reports an upload of size bytes over the max limit. size may be
// unknown (zero) when the transport cut the body off.
func TooLarge(size, max int64) error {
	details := map[string]any{"maxBytes": max}
	if size > 0 {
		details["size"] = size
	}
	return failure.Validation(fmt.Sprintf("File size must be less than %s", humanBytes(max)), details)
}

// CheckTable rejects parsed tables that lack required columns or carry too
// many data rows.
func (v *Validator) CheckTable(t *tabular.Table) error {
	if missing := t.Missing(model.RequiredColumns); len(missing) > 0 {
		return failure.Validation(
			"Missing required columns: "+strings.Join(missing, ", "),
			map[string]any{
				"missingColumns":    missing,
				"foundColumns":      t.Headers,
				"detectedDelimiter": t.DelimiterName(),
			},
		)
	}
	if n := t.Len(); n > v.limits.MaxRows {
		return failure.Validation(
			fmt.Sprintf("CSV contains %d rows, but maximum allowed is %d", n, v.limits.MaxRows),
			map[string]any{"rowCount": n, "maxRows": v.limits.MaxRows},
		)
	}
	return nil
}

// Prepare runs every gate and returns the parsed table. Nothing is
// persisted, so a rejected upload leaves no state behind.
func (v *Validator) Prepare(u *Upload) (*tabular.Table, error) {
	if err := v.CheckUpload(u); err != nil {
		return nil, err
	}

	t, err := Parse(u)
	if err != nil {
		return nil, err
	}

	if err := v.CheckTable(t); err != nil {
		zap.L().Info("ingest: rejected upload",
			zap.String("filename", u.Filename),
			zap.String("reason", failure.Message(err)),
		)
		return nil, err
	}
	return t, nil
}

// Parse picks the reader for the upload's container format.
func Parse(u *Upload) (*tabular.Table, error) {
	if IsSpreadsheet(u.ContentType, u.Filename) {
		return tabular.ParseXLSX(u.Data)
	}
	return tabular.Parse(u.Data)
}

// LooksTabular is an advisory check on the declared media type and file
// extension.
func LooksTabular(contentType, filename string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"),
		strings.Contains(ct, "excel"),
		strings.Contains(ct, "spreadsheetml"),
		ct == "text/plain",
		strings.HasPrefix(ct, "text/plain;"):
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt", ".xlsx":
		return true
	}
	return false
}

// IsSpreadsheet reports whether the upload is an xlsx workbook rather than
// delimited text.
func IsSpreadsheet(contentType, filename string) bool {
	if strings.Contains(strings.ToLower(contentType), "spreadsheetml") {
		return true
	}
	return strings.EqualFold(filepath.Ext(filename), ".xlsx")
}

func humanBytes(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
