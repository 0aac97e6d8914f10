package status

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thiagokokada/gitk-sync/internal/git"
)

// RepoStatus is a point-in-time view of the repository.
type RepoStatus struct {
	Branch             string           `json:"branch" yaml:"branch"`
	RemoteBranch       string           `json:"remote_branch,omitempty" yaml:"remote_branch,omitempty"`
	Upstream           string           `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Remote             string           `json:"remote,omitempty" yaml:"remote,omitempty"`
	Owner              string           `json:"owner,omitempty" yaml:"owner,omitempty"`
	Repo               string           `json:"repo,omitempty" yaml:"repo,omitempty"`
	HeadCommit         string           `json:"head_commit,omitempty" yaml:"head_commit,omitempty"`
	Detached           bool             `json:"detached,omitempty" yaml:"detached,omitempty"`
	CommitsAhead       int              `json:"commits_ahead" yaml:"commits_ahead"`
	CommitsBehind      int              `json:"commits_behind" yaml:"commits_behind"`
	CommitsBehindTrunk int              `json:"commits_behind_trunk" yaml:"commits_behind_trunk"`
	Conflicts          []string         `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	ModifiedFiles      []git.FileChange `json:"modified_files,omitempty" yaml:"modified_files,omitempty"`
	Untracked          []string         `json:"untracked,omitempty" yaml:"untracked,omitempty"`
	Username           string           `json:"username,omitempty" yaml:"username,omitempty"`
	RebaseInProgress   bool             `json:"rebase_in_progress,omitempty" yaml:"rebase_in_progress,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at" yaml:"updated_at"`
}

// HasConflicts reports whether any path is unmerged.
func (s RepoStatus) HasConflicts() bool { return len(s.Conflicts) > 0 }

// ModifiedPaths lists tracked changed paths followed by untracked ones.
func (s RepoStatus) ModifiedPaths() []string {
	paths := make([]string, 0, len(s.ModifiedFiles)+len(s.Untracked))
	for _, f := range s.ModifiedFiles {
		paths = append(paths, f.Path)
	}
	return append(paths, s.Untracked...)
}

// Clone returns a deep copy.
func (s RepoStatus) Clone() RepoStatus {
	s.Conflicts = slices.Clone(s.Conflicts)
	s.ModifiedFiles = slices.Clone(s.ModifiedFiles)
	s.Untracked = slices.Clone(s.Untracked)
	return s
}

type versioned struct {
	status RepoStatus
	gen    uint64
}

// Store holds the current RepoStatus. Readers never block and never see a
// partially written value; writers are serialized.
type Store struct {
	mu  sync.Mutex
	cur atomic.Pointer[versioned]
}

func NewStore() *Store {
	s := &Store{}
	s.cur.Store(&versioned{})
	return s
}

// Load returns a copy of the current status.
func (s *Store) Load() RepoStatus {
	return s.cur.Load().status.Clone()
}

// Generation increments on every write.
func (s *Store) Generation() uint64 {
	return s.cur.Load().gen
}

// Replace swaps in st and returns the new generation.
func (s *Store) Replace(st RepoStatus) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := &versioned{status: st.Clone(), gen: s.cur.Load().gen + 1}
	s.cur.Store(next)
	return next.gen
}

// Update applies fn to a copy of the current status and publishes it.
func (s *Store) Update(fn func(*RepoStatus)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cur.Load()
	st := prev.status.Clone()
	fn(&st)
	next := &versioned{status: st, gen: prev.gen + 1}
	s.cur.Store(next)
	return next.gen
}
