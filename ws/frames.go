package ws

import (
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"market-chat/domain"
	apperrors "market-chat/errors"
)

var validate = validator.New()

// chatFrame is the inbound chat-channel request. Content is normalized
// before validation, so the 4096-character bound applies to what would be
// stored, not to raw input.
type chatFrame struct {
	ChatID   int64  `json:"chat_id" validate:"required,gt=0"`
	Content  string `json:"content" validate:"max=4096"`
	NeedWait int64  `json:"need_wait" validate:"gte=0"`
}

// messageFrame is the outbound broadcast shape of one chat message.
type messageFrame struct {
	ID        int64    `json:"id"`
	ChatID    int64    `json:"chat_id"`
	UserID    int64    `json:"user_id"`
	Content   string   `json:"content"`
	Files     []string `json:"files"`
	CreatedAt int64    `json:"created_at"`
}

func toMessageFrame(message domain.Message, files []string) messageFrame {
	return messageFrame{
		ID:        message.ID,
		ChatID:    message.ChatID,
		UserID:    message.UserID,
		Content:   message.Content,
		Files:     files,
		CreatedAt: message.CreatedAt.Unix(),
	}
}

func toFeedFrames(feed []domain.FeedEntry) []messageFrame {
	return lo.Map(feed, func(entry domain.FeedEntry, _ int) messageFrame {
		return messageFrame{
			ID:        entry.ID,
			ChatID:    entry.ChatID,
			UserID:    entry.SenderID,
			Content:   entry.Content,
			Files:     entry.Files,
			CreatedAt: entry.CreatedAt.Unix(),
		}
	})
}

// waitAck acknowledges a delayed-reveal message right away, before the wait
// window starts.
type waitAck struct {
	MessageID int64 `json:"message_id"`
	Waiting   int64 `json:"waiting"`
}

// presenceFrame is the inbound presence-channel request. Either list may be
// absent.
type presenceFrame struct {
	Subscribe   []int64 `json:"subscribe" validate:"omitempty,dive,gt=0"`
	Unsubscribe []int64 `json:"unsubscribe" validate:"omitempty,dive,gt=0"`
}

// presenceReply answers on the same connection: one online/offline boolean
// per subscribe target, a flat "ok" for unsubscribes. A key is present only
// when the corresponding input list was non-empty.
type presenceReply struct {
	Subscribe   []bool `json:"subscribe,omitempty"`
	Unsubscribe string `json:"unsubscribe,omitempty"`
}

// validateTargets runs the protocol checks of one presence request as a
// pure sequential pass, before any store mutation. Checks run per id, in
// list order: self-reference and subscribe/unsubscribe overlap are detected
// while iterating subscribe against unsubscribe and vice versa.
func validateTargets(subscribe, unsubscribe []int64, selfID int64) error {
	for _, id := range subscribe {
		if id == selfID {
			return apperrors.ErrSelfSubscription
		}
		if lo.Contains(unsubscribe, id) {
			return apperrors.ErrConflictingTargets
		}
	}
	for _, id := range unsubscribe {
		if id == selfID {
			return apperrors.ErrSelfSubscription
		}
		if lo.Contains(subscribe, id) {
			return apperrors.ErrConflictingTargets
		}
	}
	return nil
}
