//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"market-chat/domain"
)

type IMessageRepository interface {
	CreateMessage(member domain.ChatMember, content string, at time.Time) (domain.Message, error)
	CreateSystem(chatID int64, content string, at time.Time) (domain.SystemMessage, error)
	Feed(chatID int64, offset, limit int) ([]domain.FeedEntry, error)
}

// MessageRepository persists member messages and system messages in BadgerDB.
// The key is formatted as "msg:{chat_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Keep the numeric id in the key as a collision disconnector if two
//     messages land on the same nanosecond.
//
// System messages live under a sibling "sys:" prefix with the same shape so
// the feed can merge both kinds for one chat.
type MessageRepository struct {
	db    *badger.DB
	log   *slog.Logger
	files IFileRepository
	seq   *badger.Sequence
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, files IFileRepository) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte("seq:message"), 128)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepository{db: db, log: log, files: files, seq: seq}, nil
}

func (r *MessageRepository) Close() error {
	return r.seq.Release()
}

// diskMessage is the stored shape shared by both message kinds. System rows
// carry domain.SystemSenderID and a zero member id.
type diskMessage struct {
	ID       int64     `json:"id"`
	MemberID int64     `json:"member_id"`
	ChatID   int64     `json:"chat_id"`
	SenderID int64     `json:"sender_id"`
	Content  string    `json:"content"`
	At       time.Time `json:"at"`
}

func messagePrefix(chatID int64) []byte {
	return []byte(fmt.Sprintf("msg:%019d:", chatID))
}

func systemPrefix(chatID int64) []byte {
	return []byte(fmt.Sprintf("sys:%019d:", chatID))
}

func timelineKey(prefix []byte, at time.Time, id int64) []byte {
	return append(prefix, []byte(fmt.Sprintf("%019d:%019d", at.UnixNano(), id))...)
}

// CreateMessage persists a message authored by a chat member. The caller
// controls `at`: the delayed-reveal path stores a created_at shifted into
// the future on purpose.
func (r *MessageRepository) CreateMessage(member domain.ChatMember, content string, at time.Time) (domain.Message, error) {
	id, err := r.nextID()
	if err != nil {
		return domain.Message{}, err
	}
	message := domain.Message{
		ID:        id,
		MemberID:  member.ID,
		ChatID:    member.ChatID,
		UserID:    member.UserID,
		Content:   content,
		CreatedAt: at.UTC(),
	}
	disk := diskMessage{
		ID:       message.ID,
		MemberID: message.MemberID,
		ChatID:   message.ChatID,
		SenderID: message.UserID,
		Content:  message.Content,
		At:       message.CreatedAt,
	}
	if err = r.store(timelineKey(messagePrefix(member.ChatID), message.CreatedAt, id), disk); err != nil {
		return domain.Message{}, err
	}
	return message, nil
}

// CreateSystem persists an out-of-band chat notice that no member authored.
func (r *MessageRepository) CreateSystem(chatID int64, content string, at time.Time) (domain.SystemMessage, error) {
	id, err := r.nextID()
	if err != nil {
		return domain.SystemMessage{}, err
	}
	system := domain.SystemMessage{ID: id, ChatID: chatID, Content: content, CreatedAt: at.UTC()}
	disk := diskMessage{
		ID:       system.ID,
		ChatID:   system.ChatID,
		SenderID: domain.SystemSenderID,
		Content:  system.Content,
		At:       system.CreatedAt,
	}
	if err = r.store(timelineKey(systemPrefix(chatID), system.CreatedAt, id), disk); err != nil {
		return domain.SystemMessage{}, err
	}
	return system, nil
}

// Feed returns one page of the merged chat history: member messages and
// system messages together, paginated newest-first with offset/limit, then
// reversed so the returned page itself reads chronologically. Every entry
// carries the attachment URLs fetched for its message id.
func (r *MessageRepository) Feed(chatID int64, offset, limit int) ([]domain.FeedEntry, error) {
	if limit <= 0 || offset < 0 {
		return nil, nil
	}
	messages, err := r.scanNewest(messagePrefix(chatID), offset+limit)
	if err != nil {
		return nil, err
	}
	systems, err := r.scanNewest(systemPrefix(chatID), offset+limit)
	if err != nil {
		return nil, err
	}

	merged := append(messages, systems...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].At.Equal(merged[j].At) {
			return merged[i].At.After(merged[j].At)
		}
		return merged[i].ID > merged[j].ID
	})
	if offset >= len(merged) {
		return nil, nil
	}
	merged = merged[offset:]
	if len(merged) > limit {
		merged = merged[:limit]
	}

	page := lo.Map(merged, func(item diskMessage, _ int) domain.FeedEntry {
		return domain.FeedEntry{
			ID:        item.ID,
			ChatID:    item.ChatID,
			SenderID:  item.SenderID,
			Content:   item.Content,
			CreatedAt: item.At,
		}
	})
	// Callers receive oldest-first order within the page
	page = lo.Reverse(page)

	for i := range page {
		if page[i].SenderID == domain.SystemSenderID {
			continue
		}
		files, err := r.files.FilesForMessage(page[i].ID)
		if err != nil {
			return nil, err
		}
		page[i].Files = files
	}
	return page, nil
}

// scanNewest walks one prefix backwards and collects at most max rows.
// Thanks to the padded timestamp in the key, reverse iteration yields rows
// newest-first without sorting.
func (r *MessageRepository) scanNewest(prefix []byte, max int) ([]diskMessage, error) {
	var rows []diskMessage
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the newest possible key for this prefix
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(rows) == max {
				break
			}
			var row diskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &row)
			})
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessageRepository) store(key []byte, disk diskMessage) error {
	bytes, err := json.Marshal(disk)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, bytes)
	})
}

func (r *MessageRepository) nextID() (int64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(next) + 1, nil
}
