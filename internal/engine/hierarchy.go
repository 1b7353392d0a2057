package engine

import (
	"context"
	"errors"

	"taskdesk/internal/repo"
)

// SuperiorChain returns the ordered chain of a user's managers, starting with
// the direct senior and following senior_person links upward. The link data
// is not guaranteed acyclic, so the walk keeps a visited set and truncates at
// the first repeat instead of looping. A senior reference that no longer
// resolves also truncates the chain at the last resolved user. Both cases are
// data-integrity problems in the hierarchy, logged and tolerated, never
// fatal to the calling operation.
//
// Every call recomputes from current data; nothing is cached across calls.
func (e Engine) SuperiorChain(ctx context.Context, userID string) ([]string, error) {
	visited := map[string]bool{userID: true}
	cur, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.logger().WithField("user_id", userID).Warn("superior chain walk started from unknown user")
			return nil, nil
		}
		return nil, err
	}
	var chain []string
	for cur.SeniorPersonID != nil && *cur.SeniorPersonID != "" {
		next := *cur.SeniorPersonID
		if visited[next] {
			e.logger().WithField("user_id", next).Warn("cycle in senior person links; truncating superior chain")
			break
		}
		senior, err := e.Repo.GetUser(ctx, next)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				e.logger().WithField("user_id", next).Warn("dangling senior person reference; truncating superior chain")
				break
			}
			return nil, err
		}
		visited[next] = true
		chain = append(chain, next)
		cur = senior
	}
	return chain, nil
}
