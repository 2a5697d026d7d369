package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrTransactionConflict marks a write that lost a race on the same facility
	// rows; ArchiveJob retries it.
	ErrTransactionConflict = errors.New("transaction conflict")

	ErrNotFound = errors.New("record not found")
)

// wrapQueryError maps known SurrealDB query failures onto the sentinels above.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
		}
	}

	return err
}
