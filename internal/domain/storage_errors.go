package domain

// StorageErrorKind enumerates Storage Layer failures.
type StorageErrorKind int

const (
	StorageErrNone StorageErrorKind = iota
	StorageErrDataNotFound
	StorageErrAlreadyExists
	StorageErrConstraintViolation
	StorageErrTransactionFailed
	StorageErrMigrationFailed
	StorageErrConnectionFailed
	StorageErrCorruptDatabase
	StorageErrInvalidInput
)

func (k StorageErrorKind) String() string {
	switch k {
	case StorageErrDataNotFound:
		return "data_not_found"
	case StorageErrAlreadyExists:
		return "already_exists"
	case StorageErrConstraintViolation:
		return "constraint_violation"
	case StorageErrTransactionFailed:
		return "transaction_failed"
	case StorageErrMigrationFailed:
		return "migration_failed"
	case StorageErrConnectionFailed:
		return "connection_failed"
	case StorageErrCorruptDatabase:
		return "corrupt_database"
	case StorageErrInvalidInput:
		return "invalid_input"
	default:
		return "none"
	}
}
