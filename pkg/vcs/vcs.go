// Package vcs abstracts the version-control repositories that back
// student groups. The API service never speaks a repository wire
// protocol itself; it opens scoped handles through a Provider and defers
// permission propagation to it.
package vcs

import (
	"errors"
	"time"
)

// ErrRepoNotFound indicates the named repository does not exist.
var ErrRepoNotFound = errors.New("repository not found")

// Revision is a read-only cursor over one committed repository state.
type Revision interface {
	Identifier() string
	ServerTimestamp() time.Time
	PathExists(path string) bool
}

// Transaction stages paths to be committed as a single revision.
type Transaction interface {
	AddPath(path string)
	HasJobs() bool
}

// Repo is a scoped handle to one group repository. Handles are only
// valid inside the Provider.Open callback that yielded them.
type Repo interface {
	LatestRevision() (Revision, error)
	// RevisionByTimestamp returns the most recent revision at or before
	// the reference time that touched the given folder, ignoring
	// revisions at or before the since bound. A nil revision means no
	// such commit exists.
	RevisionByTimestamp(at time.Time, folder string, since time.Time) (Revision, error)
	NewTransaction(author, message string) Transaction
	Commit(txn Transaction) (Revision, error)
}

// PermissionUpdater propagates membership changes to repository access
// control. UpdatePermissionsAfter scopes a batch of writes so the
// propagation fires exactly once after the batch succeeds, and not at
// all when it fails.
type PermissionUpdater interface {
	UpdatePermissions()
	// RequestPermissionUpdate marks the innermost deferred scope as
	// needing a refresh. Outside a scope it refreshes immediately.
	RequestPermissionUpdate()
	// UpdatePermissionsAfter runs fn and, on success, refreshes
	// permissions once. With onlyOnRequest set the refresh only happens
	// if fn requested it via RequestPermissionUpdate.
	UpdatePermissionsAfter(fn func() error, onlyOnRequest bool) error
}

// Provider creates repositories and yields scoped access to them.
type Provider interface {
	PermissionUpdater
	// Open yields a scoped handle to the named repository, creating it
	// on first use.
	Open(repoName string, fn func(Repo) error) error
	// Exists reports whether the named repository has been created.
	Exists(repoName string) bool
}
