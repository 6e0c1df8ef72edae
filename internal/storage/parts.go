package storage

import (
	"context"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/store"
)

const partColumns = `id, tenant_id, job_id, part_number, material, quantity, status, notes, created_at, updated_at`

var partWritable = map[string]bool{
	"material": true, "quantity": true, "notes": true, model.ColStatus: true,
}

func (s *session) ListParts(ctx context.Context, f model.PartFilter) ([]model.Part, error) {
	w := tenantWhere(s.tenantID)
	w.eq("job_id", f.JobID)
	w.eq("status", f.Status)
	query := `SELECT ` + partColumns + ` FROM parts WHERE ` + w.String() +
		` ORDER BY job_id, part_number ` + w.limit(model.ClampLimit(f.Limit))
	return listRows[model.Part](ctx, s, "list parts", query, w.args)
}

func (s *session) UpdatePart(ctx context.Context, id string, p store.Patch) (model.Part, error) {
	return updateOne[model.Part](ctx, s, "parts", "part", id, partColumns, partWritable, p)
}
