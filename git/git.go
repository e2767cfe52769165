// Package git provides the Git and GitHub operations behind Broomy's
// source-control panel, session polling and worktree management.
//
// The package is organized into focused modules:
//   - service.go: GitService struct and constructor
//   - status.go: porcelain status parsing
//   - branch.go: branch names, default branch, divergence, tracking
//   - commit.go: staging, commits, push/pull, diffs
//   - log.go: branch changes, commits and per-commit files
//   - worktree.go: worktree add/list/remove
//   - clone.go: clone and repository detection (go-git)
//   - github.go: issues, pull requests and reviews through gh
//   - branchstatus.go: the session branch status decision table
package git
