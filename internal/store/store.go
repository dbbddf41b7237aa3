// Package store is the durable ledger shared by the syncer and the
// webhook receiver. It tracks repository identities, the last handled
// upstream PR per (fork repo, upstream repo, fork branch) tuple, and the
// at-most-one in-flight sync PR per tuple.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// Action is the state of a pending sync PR.
type Action string

const (
	// ActionCreated means a sync PR is open and awaiting CI/merge.
	ActionCreated Action = "Created"
	// ActionBlocked means syncing is paused until the tracking issue closes.
	ActionBlocked Action = "Blocked"
)

// Repo is a repository identity row.
type Repo struct {
	ID           int64
	Organization string
	Name         string
}

// FullName returns "org/name".
func (r Repo) FullName() string { return r.Organization + "/" + r.Name }

// BranchTuple identifies one sync relationship.
type BranchTuple struct {
	ForkRepoID     int64
	UpstreamRepoID int64
	ForkBranch     string
}

// PendingPR is the in-flight work record for one tuple.
type PendingPR struct {
	BranchTuple
	UpstreamPRIDs   []int
	UpstreamAuthors []string
	Action          Action
	PRID            *int
	GithubIssue     *int
}

// NotApplicableAuthor is the backfill sentinel for rows created before
// upstream authors were recorded.
const NotApplicableAuthor = "not-applicable"

// Store wraps the embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	// The engine assumes a single writer; a second connection would only
	// contend on the file lock.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("set database pragmas: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Init enables referential integrity and applies the schema migrations
// idempotently.
func (s *Store) Init() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization TEXT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (organization, name)
		)`,
		`CREATE TABLE IF NOT EXISTS branch_cursors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fork_repo_id INTEGER NOT NULL REFERENCES repos (id),
			upstream_repo_id INTEGER NOT NULL REFERENCES repos (id),
			fork_branch TEXT NOT NULL,
			last_handled_pr INTEGER NOT NULL,
			UNIQUE (fork_repo_id, upstream_repo_id, fork_branch)
		)`,
		`CREATE TABLE IF NOT EXISTS pending_prs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fork_repo_id INTEGER NOT NULL REFERENCES repos (id),
			upstream_repo_id INTEGER NOT NULL REFERENCES repos (id),
			fork_branch TEXT NOT NULL,
			upstream_pr_ids TEXT NOT NULL,
			action TEXT NOT NULL,
			pr_id INTEGER,
			github_issue INTEGER,
			UNIQUE (fork_repo_id, upstream_repo_id, fork_branch),
			UNIQUE (fork_repo_id, pr_id, github_issue)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	// upstream_authors arrived after initial deployment; backfill legacy
	// rows with the sentinel, then the NOT NULL DEFAULT covers new ones.
	hasAuthors, err := s.columnExists("pending_prs", "upstream_authors")
	if err != nil {
		return err
	}
	if !hasAuthors {
		if _, err := s.db.Exec(
			`ALTER TABLE pending_prs ADD COLUMN upstream_authors TEXT NOT NULL DEFAULT 'not-applicable'`,
		); err != nil {
			return fmt.Errorf("add upstream_authors column: %w", err)
		}
	}
	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetOrCreateRepo returns the identity row for (org, name), inserting it
// on first reference. The insert-then-select dance is deliberate:
// last-insert-id is unreliable under INSERT OR IGNORE conflict semantics.
func (s *Store) GetOrCreateRepo(org, name string) (*Repo, error) {
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO repos (organization, name) VALUES (?, ?)`, org, name,
	); err != nil {
		return nil, fmt.Errorf("insert repo %s/%s: %w", org, name, err)
	}
	r := &Repo{Organization: org, Name: name}
	err := s.db.QueryRow(
		`SELECT id FROM repos WHERE organization = ? AND name = ?`, org, name,
	).Scan(&r.ID)
	if err != nil {
		return nil, fmt.Errorf("look up repo %s/%s: %w", org, name, err)
	}
	return r, nil
}

// GetRepoByID returns the identity row for a surrogate id.
func (s *Store) GetRepoByID(id int64) (*Repo, error) {
	r := &Repo{ID: id}
	err := s.db.QueryRow(
		`SELECT organization, name FROM repos WHERE id = ?`, id,
	).Scan(&r.Organization, &r.Name)
	if err != nil {
		return nil, fmt.Errorf("look up repo %d: %w", id, err)
	}
	return r, nil
}

// GetLastHandledPR returns the cursor for the tuple, or nil when the
// tuple has never been observed.
func (s *Store) GetLastHandledPR(t BranchTuple) (*int, error) {
	var v int
	err := s.db.QueryRow(
		`SELECT last_handled_pr FROM branch_cursors
		 WHERE fork_repo_id = ? AND upstream_repo_id = ? AND fork_branch = ?`,
		t.ForkRepoID, t.UpstreamRepoID, t.ForkBranch,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get branch cursor: %w", err)
	}
	return &v, nil
}

// SetLastHandledPR upserts the cursor for the tuple. The cursor is
// monotonic: a lower value never overwrites a higher one.
func (s *Store) SetLastHandledPR(t BranchTuple, id int) error {
	_, err := s.db.Exec(
		`INSERT INTO branch_cursors (fork_repo_id, upstream_repo_id, fork_branch, last_handled_pr)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (fork_repo_id, upstream_repo_id, fork_branch)
		 DO UPDATE SET last_handled_pr = excluded.last_handled_pr
		 WHERE excluded.last_handled_pr > branch_cursors.last_handled_pr`,
		t.ForkRepoID, t.UpstreamRepoID, t.ForkBranch, id,
	)
	if err != nil {
		return fmt.Errorf("set branch cursor: %w", err)
	}
	return nil
}

// GetPendingPR returns the tuple's in-flight record, or nil when none.
func (s *Store) GetPendingPR(t BranchTuple) (*PendingPR, error) {
	return s.getPendingPR(
		`WHERE fork_repo_id = ? AND upstream_repo_id = ? AND fork_branch = ?`,
		t.ForkRepoID, t.UpstreamRepoID, t.ForkBranch,
	)
}

// GetPendingPRByIssue looks up a pending PR by its tracking issue.
func (s *Store) GetPendingPRByIssue(forkRepoID int64, issue int) (*PendingPR, error) {
	return s.getPendingPR(`WHERE fork_repo_id = ? AND github_issue = ?`, forkRepoID, issue)
}

// GetPendingPRByPRID looks up a pending PR by the fork-side PR number.
func (s *Store) GetPendingPRByPRID(forkRepoID int64, prID int) (*PendingPR, error) {
	return s.getPendingPR(`WHERE fork_repo_id = ? AND pr_id = ?`, forkRepoID, prID)
}

func (s *Store) getPendingPR(where string, args ...any) (*PendingPR, error) {
	p := &PendingPR{}
	var ids, authors string
	var prID, issue sql.NullInt64
	err := s.db.QueryRow(
		`SELECT fork_repo_id, upstream_repo_id, fork_branch, upstream_pr_ids,
		        upstream_authors, action, pr_id, github_issue
		 FROM pending_prs `+where, args...,
	).Scan(&p.ForkRepoID, &p.UpstreamRepoID, &p.ForkBranch, &ids, &authors, &p.Action, &prID, &issue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending PR: %w", err)
	}
	p.UpstreamPRIDs, err = splitInts(ids)
	if err != nil {
		return nil, fmt.Errorf("decode upstream_pr_ids %q: %w", ids, err)
	}
	p.UpstreamAuthors = splitStrings(authors)
	if prID.Valid {
		v := int(prID.Int64)
		p.PRID = &v
	}
	if issue.Valid {
		v := int(issue.Int64)
		p.GithubIssue = &v
	}
	return p, nil
}

// SetPendingPR upserts the tuple's in-flight record.
func (s *Store) SetPendingPR(p *PendingPR) error {
	if err := validatePendingPR(p); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO pending_prs
		   (fork_repo_id, upstream_repo_id, fork_branch, upstream_pr_ids, upstream_authors, action, pr_id, github_issue)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fork_repo_id, upstream_repo_id, fork_branch)
		 DO UPDATE SET upstream_pr_ids = excluded.upstream_pr_ids,
		               upstream_authors = excluded.upstream_authors,
		               action = excluded.action,
		               pr_id = excluded.pr_id,
		               github_issue = excluded.github_issue`,
		p.ForkRepoID, p.UpstreamRepoID, p.ForkBranch,
		joinInts(p.UpstreamPRIDs), strings.Join(p.UpstreamAuthors, ","),
		string(p.Action), nullableInt(p.PRID), nullableInt(p.GithubIssue),
	)
	if err != nil {
		return fmt.Errorf("set pending PR: %w", err)
	}
	return nil
}

// DeletePendingPR removes the tuple's in-flight record if present.
func (s *Store) DeletePendingPR(t BranchTuple) error {
	_, err := s.db.Exec(
		`DELETE FROM pending_prs
		 WHERE fork_repo_id = ? AND upstream_repo_id = ? AND fork_branch = ?`,
		t.ForkRepoID, t.UpstreamRepoID, t.ForkBranch,
	)
	if err != nil {
		return fmt.Errorf("delete pending PR: %w", err)
	}
	return nil
}

func validatePendingPR(p *PendingPR) error {
	if len(p.UpstreamPRIDs) == 0 {
		return errors.New("pending PR must reference at least one upstream PR")
	}
	for i := 1; i < len(p.UpstreamPRIDs); i++ {
		if p.UpstreamPRIDs[i] <= p.UpstreamPRIDs[i-1] {
			return fmt.Errorf("upstream PR ids must be strictly ascending, got %v", p.UpstreamPRIDs)
		}
	}
	switch p.Action {
	case ActionBlocked:
		if p.GithubIssue == nil {
			return errors.New("a blocked pending PR must reference its tracking issue")
		}
	case ActionCreated:
		if p.PRID == nil {
			return errors.New("a created pending PR must reference the fork PR")
		}
	default:
		return fmt.Errorf("unknown pending PR action %q", p.Action)
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
