package replicate

import "github.com/syndicate-storage/gateway/cmn"

// Re-exported so replicate callers don't need a second import for the
// handful of ErrKind values they actually branch on.
type ErrKind = cmn.ErrKind

const (
	ErrNone             = cmn.ErrNone
	ErrNoReplicas       = cmn.ErrNoReplicas
	ErrLocalIO          = cmn.ErrLocalIO
	ErrTransport        = cmn.ErrTransport
	ErrNotFound         = cmn.ErrNotFound
	ErrPermissionDenied = cmn.ErrPermissionDenied
	ErrRemoteIO         = cmn.ErrRemoteIO
	ErrTimeout          = cmn.ErrTimeout
	ErrCancelled        = cmn.ErrCancelled
)
