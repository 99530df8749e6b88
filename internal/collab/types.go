package collab

import (
	"time"

	"github.com/adred-codev/collabhub/internal/config"
)

// CollabType is the kind of collaborative object a Group wraps; it
// affects only the inactivity timeout and (potentially) a validation
// predicate applied to incoming state.
type CollabType int

const (
	Document CollabType = iota
	Database
	DatabaseRow
	WorkspaceDatabase
	Folder
	UserAwareness
)

func (t CollabType) String() string {
	switch t {
	case Document:
		return "document"
	case Database:
		return "database"
	case DatabaseRow:
		return "database_row"
	case WorkspaceDatabase:
		return "workspace_database"
	case Folder:
		return "folder"
	case UserAwareness:
		return "user_awareness"
	default:
		return "unknown"
	}
}

// Timeout returns the configured inactivity timeout for t. Debug
// builds (cfg.Debug) use a uniform short timeout so tests don't need
// to wait out a 10-minute document timeout.
func (t CollabType) Timeout(cfg config.TimeoutConfig) time.Duration {
	if cfg.Debug {
		return cfg.DebugDuration
	}
	switch t {
	case Document:
		return cfg.Document
	case Database, DatabaseRow:
		return cfg.Database
	case WorkspaceDatabase, Folder, UserAwareness:
		return cfg.WorkspaceEtc
	default:
		return cfg.WorkspaceEtc
	}
}
