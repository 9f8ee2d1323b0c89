package gate

import "errors"

// Compliance rejections. Each one is surfaced to the caller with its own
// reason so the UI can say exactly why the send was refused. None of them
// leaves a message row behind.
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrCampaignArchived     = errors.New("campaign is archived")
	ErrConversationClosed   = errors.New("conversation is closed for sending")
	ErrOverLimit            = errors.New("organization monthly message limit reached")
	ErrNotAuthorized        = errors.New("actor does not hold this assignment")
	ErrOptedOut             = errors.New("recipient has opted out")
	ErrOutsideHours         = errors.New("outside permitted texting hours")
	ErrTooLong              = errors.New("message text exceeds maximum length")
)

// RejectionReason maps a compliance rejection to its metric/API label, or ""
// for errors that are not rejections.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return "not_found"
	case errors.Is(err, ErrCampaignArchived):
		return "campaign_archived"
	case errors.Is(err, ErrConversationClosed):
		return "closed"
	case errors.Is(err, ErrOverLimit):
		return "over_limit"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrOptedOut):
		return "opted_out"
	case errors.Is(err, ErrOutsideHours):
		return "outside_hours"
	case errors.Is(err, ErrTooLong):
		return "too_long"
	default:
		return ""
	}
}
