package services

import (
	"context"

	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

const (
	statusLeft   = "left"
	statusKicked = "kicked"
)

// Gate admits only members of the required channel. A failed lookup is
// reported as MembershipLookupFailed and callers must deny access on it.
type Gate struct {
	// Log is a logger
	Log logger.Logger

	// Channel is the required channel, numeric id or @username
	Channel string

	// Lookup queries the membership status of a user in a channel
	Lookup MemberLookup
}

type MemberLookup interface {
	ChatMemberStatus(ctx context.Context, channel string, userID int64) (string, error)
}

func (g *Gate) Check(ctx context.Context, userID int64) e.Membership {
	status, err := g.Lookup.ChatMemberStatus(ctx, g.Channel, userID)
	if err != nil {
		g.Log.Warn("checking membership status", "user_id", userID, "channel", g.Channel, "error", err)
		return e.MembershipLookupFailed
	}

	switch status {
	case statusLeft, statusKicked:
		return e.MembershipNotMember
	default:
		return e.MembershipMember
	}
}

// Allowed is Check reduced to the access decision.
func (g *Gate) Allowed(ctx context.Context, userID int64) bool {
	return g.Check(ctx, userID) == e.MembershipMember
}
