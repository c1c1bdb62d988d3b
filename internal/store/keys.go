package store

import "fmt"

// Kind is one of the four key namespaces spec §4.6 reserves:
// `"{app_prefix}:{kind}:{class_name|∅}:{session_id}"`.
type Kind string

const (
	KindObject    Kind = "object"
	KindLock      Kind = "lock"
	KindProgress  Kind = "progress"
	KindSecondary Kind = "secondary"
)

// ObjectKey builds the key for a session's serialized model payload.
func ObjectKey(appPrefix, className, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", appPrefix, KindObject, className, sessionID)
}

// LockKey builds the key for a session's distributed lock. Locks and
// progress records have no class_name component (spec §6: "locks:
// {app_prefix}:lock::{session_id}").
func LockKey(appPrefix, sessionID string) string {
	return fmt.Sprintf("%s:%s::%s", appPrefix, KindLock, sessionID)
}

// ProgressKey builds the key for a session's in-flight DAG progress hash.
func ProgressKey(appPrefix, sessionID string) string {
	return fmt.Sprintf("%s:%s::%s", appPrefix, KindProgress, sessionID)
}

// SecondaryKey builds the key for a session's archival record in the
// secondary durable store.
func SecondaryKey(appPrefix, className, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", appPrefix, KindSecondary, className, sessionID)
}
