package vcs

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider used by tests and local
// development. Repositories live entirely in memory; revision
// identifiers are random UUIDs.
type MemoryProvider struct {
	mu    sync.Mutex
	repos map[string]*memoryRepo
	now   func() time.Time

	scopeDepth       int
	updateRequested  bool
	permissionSyncs  int
	onPermissionSync func()
}

// NewMemoryProvider constructs an empty in-memory provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		repos: make(map[string]*memoryRepo),
		now:   time.Now,
	}
}

// SetClock overrides the commit timestamp source.
func (p *MemoryProvider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// OnPermissionSync registers a callback invoked on every permission
// propagation, typically a metrics counter.
func (p *MemoryProvider) OnPermissionSync(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPermissionSync = fn
}

// PermissionSyncCount returns how many times permissions were
// propagated. Test hook.
func (p *MemoryProvider) PermissionSyncCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permissionSyncs
}

// Open yields a scoped handle to the named repository, creating it on
// first use.
func (p *MemoryProvider) Open(repoName string, fn func(Repo) error) error {
	p.mu.Lock()
	repo, ok := p.repos[repoName]
	if !ok {
		repo = &memoryRepo{provider: p}
		p.repos[repoName] = repo
	}
	p.mu.Unlock()

	return fn(repo)
}

// Exists reports whether the named repository has been created.
func (p *MemoryProvider) Exists(repoName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.repos[repoName]
	return ok
}

// UpdatePermissions propagates access control immediately.
func (p *MemoryProvider) UpdatePermissions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncLocked()
}

// RequestPermissionUpdate marks the innermost deferred scope as needing
// a refresh, or refreshes immediately outside a scope.
func (p *MemoryProvider) RequestPermissionUpdate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scopeDepth > 0 {
		p.updateRequested = true
		return
	}
	p.syncLocked()
}

// UpdatePermissionsAfter runs fn inside a deferred permission scope.
// Nested scopes collapse into the outermost one so a batch of batches
// still propagates exactly once.
func (p *MemoryProvider) UpdatePermissionsAfter(fn func() error, onlyOnRequest bool) error {
	p.mu.Lock()
	p.scopeDepth++
	outermost := p.scopeDepth == 1
	p.mu.Unlock()

	err := fn()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopeDepth--

	if err != nil {
		if outermost {
			p.updateRequested = false
		}
		return err
	}

	if !onlyOnRequest {
		p.updateRequested = true
	}

	if outermost && p.updateRequested {
		p.updateRequested = false
		p.syncLocked()
	}

	return nil
}

func (p *MemoryProvider) syncLocked() {
	p.permissionSyncs++
	if p.onPermissionSync != nil {
		p.onPermissionSync()
	}
}

type memoryRepo struct {
	mu        sync.Mutex
	provider  *MemoryProvider
	revisions []*memoryRevision
}

type memoryRevision struct {
	identifier   string
	timestamp    time.Time
	paths        map[string]struct{}
	changedPaths map[string]struct{}
}

func (r *memoryRevision) Identifier() string { return r.identifier }

func (r *memoryRevision) ServerTimestamp() time.Time { return r.timestamp }

func (r *memoryRevision) PathExists(path string) bool {
	if _, ok := r.paths[path]; ok {
		return true
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p := range r.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (r *memoryRepo) LatestRevision() (Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.revisions) == 0 {
		return r.emptyRevisionLocked(), nil
	}
	return r.revisions[len(r.revisions)-1], nil
}

func (r *memoryRepo) emptyRevisionLocked() *memoryRevision {
	return &memoryRevision{
		identifier:   uuid.NewString(),
		paths:        map[string]struct{}{},
		changedPaths: map[string]struct{}{},
	}
}

func (r *memoryRepo) RevisionByTimestamp(at time.Time, folder string, since time.Time) (Revision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := strings.TrimSuffix(folder, "/")
	for i := len(r.revisions) - 1; i >= 0; i-- {
		rev := r.revisions[i]
		if rev.timestamp.After(at) {
			continue
		}
		if !since.IsZero() && !rev.timestamp.After(since) {
			break
		}
		for p := range rev.changedPaths {
			if p == prefix || strings.HasPrefix(p, prefix+"/") {
				return rev, nil
			}
		}
	}
	return nil, nil
}

func (r *memoryRepo) NewTransaction(author, message string) Transaction {
	_ = author
	_ = message
	return &memoryTransaction{}
}

func (r *memoryRepo) Commit(txn Transaction) (Revision, error) {
	memTxn, ok := txn.(*memoryTransaction)
	if !ok || !memTxn.HasJobs() {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	paths := map[string]struct{}{}
	if len(r.revisions) > 0 {
		for p := range r.revisions[len(r.revisions)-1].paths {
			paths[p] = struct{}{}
		}
	}

	changed := map[string]struct{}{}
	for _, p := range memTxn.paths {
		normalized := strings.TrimSuffix(p, "/")
		paths[normalized] = struct{}{}
		changed[normalized] = struct{}{}
	}

	rev := &memoryRevision{
		identifier:   uuid.NewString(),
		timestamp:    r.provider.clock()(),
		paths:        paths,
		changedPaths: changed,
	}
	r.revisions = append(r.revisions, rev)
	return rev, nil
}

// CommitAt appends a revision touching the given paths at an explicit
// timestamp. Test hook for building repository histories.
func (r *memoryRepo) CommitAt(timestamp time.Time, paths ...string) Revision {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := map[string]struct{}{}
	if len(r.revisions) > 0 {
		for p := range r.revisions[len(r.revisions)-1].paths {
			all[p] = struct{}{}
		}
	}

	changed := map[string]struct{}{}
	for _, p := range paths {
		normalized := strings.TrimSuffix(p, "/")
		all[normalized] = struct{}{}
		changed[normalized] = struct{}{}
	}

	rev := &memoryRevision{
		identifier:   uuid.NewString(),
		timestamp:    timestamp,
		paths:        all,
		changedPaths: changed,
	}
	r.revisions = append(r.revisions, rev)
	return rev
}

// CommitAt appends a revision to the named repository at an explicit
// timestamp, creating the repository on first use. Test hook for
// building commit histories.
func (p *MemoryProvider) CommitAt(repoName string, timestamp time.Time, paths ...string) Revision {
	p.mu.Lock()
	repo, ok := p.repos[repoName]
	if !ok {
		repo = &memoryRepo{provider: p}
		p.repos[repoName] = repo
	}
	p.mu.Unlock()

	return repo.CommitAt(timestamp, paths...)
}

func (p *MemoryProvider) clock() func() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

type memoryTransaction struct {
	paths []string
}

func (t *memoryTransaction) AddPath(path string) {
	t.paths = append(t.paths, path)
}

func (t *memoryTransaction) HasJobs() bool {
	return len(t.paths) > 0
}
