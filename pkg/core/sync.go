package core

// SyncState is the remote-scoped synchronization state of a
// simulation, tracked per (simulation, remote) pair.
type SyncState string

const (
	SyncAbsent           SyncState = "absent"
	SyncLocalOnly        SyncState = "local-only"
	SyncPushPending      SyncState = "push-pending"
	SyncRemoteStaged     SyncState = "remote-staged"
	SyncRemotePublished  SyncState = "remote-published"
	SyncRemoteDeprecated SyncState = "remote-deprecated"
)
