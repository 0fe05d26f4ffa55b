package friendship

import "github.com/tahahasan7/yalla-server/model"

// Status is the derived, viewer-relative state of a relationship.
type Status string

const (
	// StatusNone means no rows exist between the pair.
	StatusNone Status = "none"
	// StatusPending means the viewer sent a request that is still open.
	StatusPending Status = "pending"
	// StatusRequested means the other party sent the viewer a request.
	StatusRequested Status = "requested"
	// StatusAccepted means the pair are friends.
	StatusAccepted Status = "accepted"
	// StatusDeclined means a request between the pair was declined.
	StatusDeclined Status = "declined"
)

// Relationship is the resolved view of a pair from one user's side.
type Relationship struct {
	Status      Status `json:"status"`
	IsRequester bool   `json:"is_requester"`
	// Drift is set when the pair's two directed rows disagree, e.g. one
	// accepted row next to a pending one. Such pairs should not occur
	// once writes are transactional but are still resolved rather than
	// rejected, so readers keep working against pre-migration data.
	Drift bool `json:"drift,omitempty"`
}

// Resolve classifies the 0-2 directed rows found for a pair from the
// viewer's perspective. Precedence when rows disagree is
// accepted > declined > pending.
func Resolve(viewerID int64, rows []model.Friendship) Relationship {
	if len(rows) == 0 {
		return Relationship{Status: StatusNone}
	}

	drift := len(rows) == 2 && rows[0].Status != rows[1].Status

	// accepted wins
	for _, r := range rows {
		if r.Status == model.FriendshipAccepted {
			return Relationship{Status: StatusAccepted, IsRequester: r.UserID == viewerID, Drift: drift}
		}
	}
	// then declined
	for _, r := range rows {
		if r.Status == model.FriendshipDeclined {
			return Relationship{Status: StatusDeclined, IsRequester: r.UserID == viewerID, Drift: drift}
		}
	}
	// pending is viewer-relative: the row's author sees "pending", the
	// addressee sees "requested".
	for _, r := range rows {
		if r.UserID == viewerID {
			return Relationship{Status: StatusPending, IsRequester: true, Drift: drift}
		}
	}
	return Relationship{Status: StatusRequested, IsRequester: false, Drift: drift}
}
