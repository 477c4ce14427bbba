// Package types defines the public wire types for Foursight check and action runs.
package types

// Kind distinguishes check runs from action runs.
type Kind string

// Kind values tag the two result variants.
const (
	KindCheck  Kind = "check"
	KindAction Kind = "action"
)

// CheckStatus is the terminal outcome of a check run.
type CheckStatus string

// CheckStatus values enumerate the statuses a stored check may carry.
const (
	CheckPend   CheckStatus = "PEND"
	CheckPass   CheckStatus = "PASS"
	CheckWarn   CheckStatus = "WARN"
	CheckFail   CheckStatus = "FAIL"
	CheckError  CheckStatus = "ERROR"
	CheckIgnore CheckStatus = "IGNORE"
)

// Valid reports whether s is one of the known check statuses.
func (s CheckStatus) Valid() bool {
	switch s {
	case CheckPend, CheckPass, CheckWarn, CheckFail, CheckError, CheckIgnore:
		return true
	}
	return false
}

// ActionStatus is the terminal outcome of an action run.
type ActionStatus string

// ActionStatus values enumerate the statuses a stored action may carry.
const (
	ActionPend ActionStatus = "PEND"
	ActionDone ActionStatus = "DONE"
	ActionFail ActionStatus = "FAIL"
)

// Valid reports whether s is one of the known action statuses.
func (s ActionStatus) Valid() bool {
	switch s {
	case ActionPend, ActionDone, ActionFail:
		return true
	}
	return false
}

// StoreBackend names a result store implementation.
type StoreBackend string

// StoreBackend values enumerate the supported result store backends.
const (
	BackendS3       StoreBackend = "s3"
	BackendDynamoDB StoreBackend = "dynamodb"
	BackendRedis    StoreBackend = "redis"
	BackendPostgres StoreBackend = "postgres"
	BackendSQLite   StoreBackend = "sqlite"
	BackendMemory   StoreBackend = "memory"
)

// MalformedStatusDescription replaces the description of any run stored with
// a status outside its kind's enum.
const MalformedStatusDescription = "Malformed status; look at Foursight check definition."
