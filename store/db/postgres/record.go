package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/hrygo/mnemo/store"
)

func (d *DB) UpsertRecords(ctx context.Context, records []*store.Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(err, "failed to begin upsert transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memory_record (id, category, payload, embedding, created_ts, updated_ts)
		VALUES (`+placeholders(6)+`)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding,
			updated_ts = EXCLUDED.updated_ts`)
	if err != nil {
		return classifyError(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Category, payloadArg(r.Payload), vectorArg(r.Embedding), r.CreatedTs, r.UpdatedTs); err != nil {
			return classifyError(err, "failed to upsert record "+r.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyError(err, "failed to commit upsert")
	}
	return nil
}

func (d *DB) ListRecords(ctx context.Context, find *store.FindRecord) ([]*store.Record, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *find.Category)
	}

	query := `
		SELECT id, category, payload, embedding, created_ts, updated_ts
		FROM memory_record
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC, id DESC
		LIMIT ` + placeholder(len(args)+1)
	args = append(args, find.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err, "failed to list records")
	}
	defer rows.Close()

	list := []*store.Record{}
	for rows.Next() {
		var r store.Record
		var payload []byte
		var vector *pgvector.Vector
		if err := rows.Scan(&r.ID, &r.Category, &payload, &vector, &r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, classifyError(err, "failed to scan record")
		}
		r.Payload = payload
		if vector != nil {
			r.Embedding = vector.Slice()
		}
		list = append(list, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err, "failed to iterate records")
	}
	return list, nil
}

func (d *DB) UpdateRecordPayload(ctx context.Context, update *store.UpdateRecordPayload) (bool, error) {
	result, err := d.db.ExecContext(ctx,
		`UPDATE memory_record SET payload = `+placeholder(1)+`, updated_ts = `+placeholder(2)+` WHERE id = `+placeholder(3),
		payloadArg(update.Payload), update.UpdatedTs, update.ID)
	if err != nil {
		return false, classifyError(err, "failed to update record payload")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, classifyError(err, "failed to read affected rows")
	}
	return rows > 0, nil
}

func (d *DB) DeleteRecord(ctx context.Context, delete *store.DeleteRecord) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM memory_record WHERE id = `+placeholder(1), delete.ID); err != nil {
		return classifyError(err, "failed to delete record")
	}
	return nil
}

// payloadArg sends JSONB as text; lib/pq would encode []byte as bytea.
func payloadArg(payload []byte) string {
	if len(payload) == 0 {
		return "{}"
	}
	return string(payload)
}

func vectorArg(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}
