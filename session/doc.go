// Package session manages Broomy sessions: working directories, usually git
// worktrees, each paired with an optional coding agent.
//
// # Lifecycle
//
// Create makes a new branch and worktree for a managed repo:
//   - the branch name is validated (or derived from the session name)
//   - origin is fetched and the worktree starts from origin's default branch,
//     falling back to the local default branch and then HEAD
//   - the worktree lives under <worktrees>/<repo name>/<branch>
//   - setup commands from the repo's .broomy/repo.yaml run in the worktree,
//     followed by the profile's init script for the repo when one exists
//   - the session is added to the profile config and saved
//
// AddExisting registers a directory that already exists. Delete removes the
// session and can remove its worktree and branch. Archive hides a session
// from polling without deleting anything.
//
// # Polling
//
// Poller refreshes git status for every active session on an interval,
// marks sessions that have carried commits, refreshes PR state from GitHub
// at a slower interval, and derives each session's branch status. Updates
// are published as session:status events.
//
// # Orphans
//
// FindOrphanedWorktrees lists worktree directories under the worktrees root
// that no session points at; PruneOrphanedWorktrees removes them.
package session
