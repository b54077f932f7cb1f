package store

// Record is a keyed entry in the durable store.
// Payload is an opaque JSON document; the caller owns its schema.
type Record struct {
	ID        string
	Category  string
	Payload   []byte
	Embedding []float32
	// CreatedTs and UpdatedTs are unix milliseconds.
	CreatedTs int64
	UpdatedTs int64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &c
}

// FindRecord specifies the conditions for finding records.
// Results are ordered by UpdatedTs descending.
type FindRecord struct {
	ID       *string
	Category *string
	Limit    int
}

// DeleteRecord specifies the record to delete.
type DeleteRecord struct {
	ID string
}

// UpdateRecordPayload replaces the payload of an existing record.
type UpdateRecordPayload struct {
	ID        string
	Payload   []byte
	UpdatedTs int64
}

// MaxListLimit caps ListRecords.
const MaxListLimit = 1000
