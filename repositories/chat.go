//go:generate go run go.uber.org/mock/mockgen -source=chat.go -destination=../mocks/mock_chat_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"market-chat/domain"
	apperrors "market-chat/errors"
)

type IChatRepository interface {
	CreateChat(isDialog bool, userIDs []int64) (domain.Chat, []domain.ChatMember, error)
	Member(chatID, userID int64) (domain.ChatMember, error)
	MemberUserIDs(chatID int64) ([]int64, error)
	DeleteChat(chatID int64) error
}

// ChatRepository persists chats and memberships in BadgerDB.
// Keys are zero-padded so that prefix scans stay lexicographically ordered:
//   - "chat:{chat_id}"           -> Chat
//   - "member:{chat_id}:{user_id}" -> ChatMember
//
// The direct (chat, user) key makes membership resolution a single point
// lookup, and the chat prefix makes the member list one scan.
type ChatRepository struct {
	db        *badger.DB
	log       *slog.Logger
	chatSeq   *badger.Sequence
	memberSeq *badger.Sequence
}

func NewChatRepository(db *badger.DB, log *slog.Logger) (*ChatRepository, error) {
	chatSeq, err := db.GetSequence([]byte("seq:chat"), 64)
	if err != nil {
		return nil, fmt.Errorf("chat sequence: %w", err)
	}
	memberSeq, err := db.GetSequence([]byte("seq:member"), 64)
	if err != nil {
		return nil, fmt.Errorf("member sequence: %w", err)
	}
	return &ChatRepository{db: db, log: log, chatSeq: chatSeq, memberSeq: memberSeq}, nil
}

// Close releases the id sequences. Unused ids in the current lease are lost,
// which only leaves gaps, never collisions.
func (r *ChatRepository) Close() error {
	if err := r.chatSeq.Release(); err != nil {
		return err
	}
	return r.memberSeq.Release()
}

func chatKey(chatID int64) []byte {
	return []byte(fmt.Sprintf("chat:%019d", chatID))
}

func memberKey(chatID, userID int64) []byte {
	return []byte(fmt.Sprintf("member:%019d:%019d", chatID, userID))
}

func memberPrefix(chatID int64) []byte {
	return []byte(fmt.Sprintf("member:%019d:", chatID))
}

// CreateChat groups two or more users into a new chat and creates one
// membership per user. A user holds at most one membership per chat; userIDs
// are deduplicated here to keep that invariant.
func (r *ChatRepository) CreateChat(isDialog bool, userIDs []int64) (domain.Chat, []domain.ChatMember, error) {
	chatID, err := r.nextID(r.chatSeq)
	if err != nil {
		return domain.Chat{}, nil, err
	}
	chat := domain.Chat{ID: chatID, IsDialog: isDialog, CreatedAt: time.Now().UTC()}

	seen := make(map[int64]struct{}, len(userIDs))
	var members []domain.ChatMember
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		memberID, err := r.nextID(r.memberSeq)
		if err != nil {
			return domain.Chat{}, nil, err
		}
		members = append(members, domain.ChatMember{ID: memberID, ChatID: chatID, UserID: userID})
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		chatBytes, err := json.Marshal(chat)
		if err != nil {
			return err
		}
		if err = txn.Set(chatKey(chatID), chatBytes); err != nil {
			return err
		}
		for _, member := range members {
			memberBytes, err := json.Marshal(member)
			if err != nil {
				return err
			}
			if err = txn.Set(memberKey(chatID, member.UserID), memberBytes); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Chat{}, nil, err
	}
	r.log.Debug("chat created", "chat_id", chatID, "members", len(members), "dialog", isDialog)
	return chat, members, nil
}

// Member resolves the membership of (chatID, userID) with a point lookup.
// Returns ErrMembershipNotFound when the user is not part of the chat.
func (r *ChatRepository) Member(chatID, userID int64) (domain.ChatMember, error) {
	var member domain.ChatMember
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(memberKey(chatID, userID))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &member)
		})
	})
	if err == badger.ErrKeyNotFound {
		return domain.ChatMember{}, apperrors.ErrMembershipNotFound
	}
	if err != nil {
		return domain.ChatMember{}, err
	}
	return member, nil
}

// MemberUserIDs returns the authoritative user-id list of a chat. This is
// the fallback behind the shared membership cache.
func (r *ChatRepository) MemberUserIDs(chatID int64) ([]int64, error) {
	var userIDs []int64
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		prefix := memberPrefix(chatID)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var member domain.ChatMember
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &member)
			})
			if err != nil {
				return err
			}
			userIDs = append(userIDs, member.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

// DeleteChat removes the chat and cascades to its memberships, messages and
// system messages.
func (r *ChatRepository) DeleteChat(chatID int64) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(chatKey(chatID)); err == badger.ErrKeyNotFound {
			return apperrors.ErrChatNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(chatKey(chatID)); err != nil {
			return err
		}
		prefixes := [][]byte{memberPrefix(chatID), messagePrefix(chatID), systemPrefix(chatID)}
		for _, prefix := range prefixes {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChatRepository) nextID(seq *badger.Sequence) (int64, error) {
	next, err := seq.Next()
	if err != nil {
		return 0, err
	}
	// Sequences start at zero; ids are strictly positive
	return int64(next) + 1, nil
}
