// Package gitrepo keeps a git repository per template. Every template version
// is committed as template.json and tagged v<N>, so any two versions can be
// read back and diffed independently of the database.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"archboard/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const contentFile = "template.json"

// ErrVersionNotFound is returned when no tag exists for a version.
var ErrVersionNotFound = errors.New("template version snapshot not found")

// Content is the versioned part of a template.
type Content struct {
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Milestones    []store.MilestoneStub `json:"milestones"`
	DecisionStubs []store.DecisionStub  `json:"decision_stubs"`
}

func ContentFromVersion(v store.TemplateVersion) Content {
	return Content{
		Title:         v.Title,
		Description:   v.Description,
		Milestones:    v.Milestones,
		DecisionStubs: v.DecisionStubs,
	}
}

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// CommitVersion writes content as version n of the template and tags the
// commit. Re-committing a version that was tagged before (a previous attempt
// whose database write failed) moves the tag to the new commit.
func (s *Service) CommitVersion(templateID string, version int, content Content, author string) (CommitInfo, error) {
	lock := s.templateLock(templateID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(templateID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(normalize(content), "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), contentFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add content: %w", err)
	}

	sig := s.signature(author)
	hash, err := worktree.Commit(fmt.Sprintf("Version %d: %s", version, content.Title), &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            sig,
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit content: %w", err)
	}

	tag := tagName(version)
	if _, err := repo.Tag(tag); err == nil {
		if err := repo.DeleteTag(tag); err != nil {
			return CommitInfo{}, fmt.Errorf("replace tag %s: %w", tag, err)
		}
	}
	if _, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{Tagger: sig, Message: tag}); err != nil {
		return CommitInfo{}, fmt.Errorf("create tag %s: %w", tag, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// GetVersionContent reads the snapshot tagged for version n.
func (s *Service) GetVersionContent(templateID string, version int) (Content, error) {
	lock := s.templateLock(templateID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(templateID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Content{}, ErrVersionNotFound
		}
		return Content{}, fmt.Errorf("open repo: %w", err)
	}
	commitObj, err := versionCommit(repo, version)
	if err != nil {
		return Content{}, err
	}
	return readContentFromCommit(commitObj)
}

// History lists commits newest first; limit <= 0 means all.
func (s *Service) History(templateID string, limit int) ([]CommitInfo, error) {
	lock := s.templateLock(templateID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(templateID))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return []CommitInfo{}, nil
		}
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) openOrInit(templateID string) (*git.Repository, error) {
	path := s.repoPath(templateID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(templateID string) string {
	return filepath.Join(s.baseDir, templateID)
}

func (s *Service) templateLock(templateID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[templateID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[templateID] = lock
	return lock
}

func (s *Service) signature(author string) *object.Signature {
	if strings.TrimSpace(author) == "" {
		author = "Archboard"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.archboard.dev", sanitizeEmail(author)),
		When:  s.now(),
	}
}

func tagName(version int) string {
	return fmt.Sprintf("v%d", version)
}

// versionCommit peels the version tag, which is annotated, down to its commit.
func versionCommit(repo *git.Repository, version int) (*object.Commit, error) {
	ref, err := repo.Tag(tagName(version))
	if err != nil {
		if errors.Is(err, git.ErrTagNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("resolve tag: %w", err)
	}
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		return tagObj.Commit()
	}
	return repo.CommitObject(ref.Hash())
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return normalize(content), nil
}

func normalize(c Content) Content {
	if c.Milestones == nil {
		c.Milestones = []store.MilestoneStub{}
	}
	if c.DecisionStubs == nil {
		c.DecisionStubs = []store.DecisionStub{}
	}
	return c
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String(),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
