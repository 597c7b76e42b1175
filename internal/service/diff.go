package service

import "threadfeed/internal/domain"

// delivery is the diff engine's decision for one feed against one snapshot.
// At most one of archival/baseline is set; posts is empty for both.
type delivery struct {
	// archival: the thread just transitioned to archived; emit the
	// one-shot notice and mark the record as part of the same commit.
	archival bool
	// baseline: the stored cursor is missing or unreadable; advance it to
	// the thread's latest item without replaying history.
	baseline bool
	posts    []domain.Post
}

func (d delivery) empty() bool {
	return !d.archival && !d.baseline && len(d.posts) == 0
}

// planDelivery decides which posts must be delivered now. The empty plan is
// the common steady-state result, not an error.
//
// Rules, in order: an archived-flag transition wins and suppresses the
// normal diff for the cycle; a forced run selects exactly the latest reply
// (or the topic of a reply-less thread) regardless of cursor state; an
// already-archived feed never resumes normal diffs; a zero cursor is
// repaired as a fresh baseline; otherwise every reply numbered above the
// cursor goes out in ascending order, with a cheap short-circuit when the
// snapshot's last reply id has not moved past the cursor.
func planDelivery(snap *domain.Snapshot, rec *domain.FeedRecord, force bool) delivery {
	if snap.Archived && !rec.IsArchived {
		return delivery{archival: true}
	}

	if force {
		return delivery{posts: []domain.Post{snap.LatestReply()}}
	}

	if rec.IsArchived {
		return delivery{}
	}

	if rec.LastPostID == 0 {
		return delivery{baseline: true}
	}

	if snap.LastReplyID <= rec.LastPostID {
		return delivery{}
	}

	return delivery{posts: snap.RepliesAfter(rec.LastPostID)}
}
