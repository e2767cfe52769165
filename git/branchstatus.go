package git

// BranchStatus summarizes where a session branch is in its lifecycle.
type BranchStatus string

const (
	BranchInProgress BranchStatus = "in-progress"
	BranchPushed     BranchStatus = "pushed"
	BranchOpen       BranchStatus = "open"
	BranchMerged     BranchStatus = "merged"
	BranchClosed     BranchStatus = "closed"
)

// BranchStatusInput is everything ComputeBranchStatus looks at.
type BranchStatusInput struct {
	UncommittedFiles   int
	Ahead              int
	HasTrackingBranch  bool
	IsOnMainBranch     bool
	LastKnownPRState   PRState
	PushedToMainCommit string
	HeadCommit         string
	IsMergedToMain     bool
	HasHadCommits      bool
}

// ComputeBranchStatus derives the branch status. Local work always wins:
// a branch with uncommitted or unpushed commits is in progress regardless of
// what GitHub says about its PR.
func ComputeBranchStatus(in BranchStatusInput) BranchStatus {
	if in.IsOnMainBranch {
		return BranchInProgress
	}
	if in.UncommittedFiles > 0 || in.Ahead > 0 {
		return BranchInProgress
	}

	switch in.LastKnownPRState {
	case PRStateMerged:
		return BranchMerged
	case PRStateClosed:
		return BranchClosed
	case PRStateOpen:
		return BranchOpen
	}

	if in.PushedToMainCommit != "" && in.PushedToMainCommit == in.HeadCommit {
		return BranchMerged
	}
	// A fresh branch is trivially an ancestor of main; only count it as
	// merged once it has carried commits of its own.
	if in.IsMergedToMain && in.HasHadCommits {
		return BranchMerged
	}
	if in.HasTrackingBranch {
		return BranchPushed
	}
	return BranchInProgress
}
