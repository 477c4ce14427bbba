package types

// Well-known kwargs keys.
const (
	KwargUUID        = "uuid"
	KwargPrimary     = "primary"
	KwargDoNotStore  = "do_not_store"
	KwargCheckName   = "check_name"
	KwargCalledBy    = "called_by"
	KwargQueueAction = "queue_action"
	KwargRunInfo     = "_run_info"
)

// Kwargs holds the invocation parameters of a single run. After a run is
// stored it always carries at least "uuid" and "primary".
type Kwargs map[string]interface{}

// Clone returns a shallow copy of k. A nil receiver yields an empty map.
func (k Kwargs) Clone() Kwargs {
	out := make(Kwargs, len(k))
	for key, v := range k {
		out[key] = v
	}
	return out
}

// String returns the string value stored under key, or "" when the key is
// absent or holds another type.
func (k Kwargs) String(key string) string {
	if v, ok := k[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the boolean value stored under key. Only a real boolean true
// counts; strings such as "true" do not.
func (k Kwargs) Bool(key string) bool {
	v, ok := k[key].(bool)
	return ok && v
}

// Has reports whether key is present, regardless of its value.
func (k Kwargs) Has(key string) bool {
	_, ok := k[key]
	return ok
}

// UUID returns the run identity.
func (k Kwargs) UUID() string { return k.String(KwargUUID) }

// Primary reports whether the run is flagged as primary.
func (k Kwargs) Primary() bool { return k.Bool(KwargPrimary) }

// DoNotStore reports whether the run must skip persistence.
func (k Kwargs) DoNotStore() bool { return k.Bool(KwargDoNotStore) }

// RunInfo is the queue provenance stamped into kwargs by the worker.
type RunInfo struct {
	RunID    string `json:"run_id" mapstructure:"run_id"`
	Receipt  string `json:"receipt" mapstructure:"receipt"`
	QueuedAt string `json:"queued_at,omitempty" mapstructure:"queued_at"`
}

// Map converts the provenance into the plain map form stored in kwargs.
func (r RunInfo) Map() map[string]interface{} {
	m := map[string]interface{}{
		"run_id":  r.RunID,
		"receipt": r.Receipt,
	}
	if r.QueuedAt != "" {
		m["queued_at"] = r.QueuedAt
	}
	return m
}
