package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	memerr "github.com/hrygo/mnemo/internal/errors"
)

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// classifyError maps a database error onto the memory error taxonomy.
// Integrity violations (class 23) become Conflict, everything else Unavailable.
func classifyError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return memerr.Conflict(msg, err).WithContext("sqlstate", string(pqErr.Code))
	}
	return memerr.Unavailable(msg, err)
}
