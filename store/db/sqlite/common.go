package sqlite

import (
	"strings"

	memerr "github.com/hrygo/mnemo/internal/errors"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(n int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// classifyError maps a database error onto the memory error taxonomy.
func classifyError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "constraint failed") {
		return memerr.Conflict(msg, err)
	}
	return memerr.Unavailable(msg, err)
}
