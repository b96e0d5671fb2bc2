package analytics

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is reported when the analytics store is not connected.
// Components translate it into empty results or a Skipped Result.
var ErrUnavailable = errors.New("analytics store unavailable")

// StorageError represents an error from a storage backend.
type StorageError struct {
	Backend   string   // Storage backend ("memory", "sqlite", "mongo")
	Operation string   // Operation that failed ("upsert", "delete", "stats", ...)
	Category  Category // Category involved, zero when not category-specific
	Cause     error    // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Category.Valid() {
		return fmt.Sprintf("storage error [backend=%s, operation=%s, category=%s]: %v",
			e.Backend, e.Operation, e.Category, e.Cause)
	}
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, category Category, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Category:  category,
		Cause:     cause,
	}
}

// StatError reports that one category's size statistics could not be read.
// The capacity report counts that category as empty.
type StatError struct {
	Category Category
	Cause    error
}

// Error implements the error interface.
func (e *StatError) Error() string {
	return fmt.Sprintf("stats unavailable for %s: %v", e.Category, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StatError) Unwrap() error {
	return e.Cause
}

// NewStatError creates a new StatError.
func NewStatError(category Category, cause error) *StatError {
	return &StatError{Category: category, Cause: cause}
}

// IndexError reports a failed index creation.
type IndexError struct {
	Index    string
	Category Category
	Conflict bool // the index, or one with the same name, already exists
	Cause    error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("index %s on %s conflicts with an existing index: %v", e.Index, e.Category, e.Cause)
	}
	return fmt.Sprintf("index %s on %s failed: %v", e.Index, e.Category, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// NewIndexError creates a new IndexError. Conflict is inferred from the
// cause's message when the backend does not flag it explicitly.
func NewIndexError(index string, category Category, conflict bool, cause error) *IndexError {
	if !conflict && cause != nil {
		msg := strings.ToLower(cause.Error())
		conflict = strings.Contains(msg, "already exists") ||
			strings.Contains(msg, "indexoptionsconflict") ||
			strings.Contains(msg, "indexkeyspecsconflict")
	}
	return &IndexError{Index: index, Category: category, Conflict: conflict, Cause: cause}
}

// IsIndexConflict reports whether err is an IndexError caused by an
// existing index.
func IsIndexConflict(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Conflict
}

// CleanupError reports that deleting one category failed during a cleanup
// pass. The pass continues with the next category.
type CleanupError struct {
	Category Category
	Cutoff   string
	Cause    error
}

// Error implements the error interface.
func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %s (cutoff %s) failed: %v", e.Category, e.Cutoff, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *CleanupError) Unwrap() error {
	return e.Cause
}

// NewCleanupError creates a new CleanupError.
func NewCleanupError(category Category, cutoff string, cause error) *CleanupError {
	return &CleanupError{Category: category, Cutoff: cutoff, Cause: cause}
}

// PolicyError reports an invalid retention override.
type PolicyError struct {
	Category Category
	Days     int
	Reason   string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid retention for %s (%d days): %s", e.Category, e.Days, e.Reason)
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(category Category, days int, reason string) *PolicyError {
	return &PolicyError{Category: category, Days: days, Reason: reason}
}
