package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

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
		ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			payload = excluded.payload,
			embedding = excluded.embedding,
			updated_ts = excluded.updated_ts`)
	if err != nil {
		return classifyError(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	for _, r := range records {
		embedding, err := encodeEmbedding(r.Embedding)
		if err != nil {
			return err
		}
		payload := string(r.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Category, payload, embedding, r.CreatedTs, r.UpdatedTs); err != nil {
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
		var payload string
		var embedding sql.NullString
		if err := rows.Scan(&r.ID, &r.Category, &payload, &embedding, &r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, classifyError(err, "failed to scan record")
		}
		r.Payload = []byte(payload)
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &r.Embedding); err != nil {
				return nil, classifyError(err, "failed to decode embedding of record "+r.ID)
			}
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
		`UPDATE memory_record SET payload = ?, updated_ts = ? WHERE id = ?`,
		string(update.Payload), update.UpdatedTs, update.ID)
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
	if _, err := d.db.ExecContext(ctx, `DELETE FROM memory_record WHERE id = ?`, delete.ID); err != nil {
		return classifyError(err, "failed to delete record")
	}
	return nil
}

func encodeEmbedding(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
