package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"market-chat/domain"
)

func newMessageRepository(t *testing.T, db *badger.DB) (*MessageRepository, *FileRepository) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	files := NewFileRepository(db, log)
	repository, err := NewMessageRepository(db, log, files)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close() })
	return repository, files
}

func Test_Feed_Merges_Member_And_System_Messages_Chronologically(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, _ := newMessageRepository(t, db)
	member := domain.ChatMember{ID: 1, ChatID: 7, UserID: 42}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Given one member message at t=10 and one system notice at t=20
	message, err := repository.CreateMessage(member, "hello", base.Add(10*time.Second))
	req.NoError(err)
	system, err := repository.CreateSystem(7, "user joined", base.Add(20*time.Second))
	req.NoError(err)

	// When reading the first page
	feed, err := repository.Feed(7, 0, 2)
	req.NoError(err)

	// Then the page is chronological even though pagination sorts descending
	req.Len(feed, 2)
	req.Equal(message.ID, feed[0].ID)
	req.Equal(int64(42), feed[0].SenderID)
	req.Equal(system.ID, feed[1].ID)
	req.Equal(domain.SystemSenderID, feed[1].SenderID)
	req.True(feed[1].System())
}

func Test_Feed_Pagination_Walks_Backwards_In_Time(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, _ := newMessageRepository(t, db)
	member := domain.ChatMember{ID: 1, ChatID: 7, UserID: 42}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	contents := []string{"one", "two", "three", "four", "five"}
	for i, content := range contents {
		_, err := repository.CreateMessage(member, content, base.Add(time.Duration(i)*time.Minute))
		req.NoError(err)
	}

	// First page holds the two newest, oldest-first within the page
	page, err := repository.Feed(7, 0, 2)
	req.NoError(err)
	req.Equal([]string{"four", "five"}, contentsOf(page))

	// Second page continues backwards
	page, err = repository.Feed(7, 2, 2)
	req.NoError(err)
	req.Equal([]string{"two", "three"}, contentsOf(page))

	// Offset past the end yields an empty page, not an error
	page, err = repository.Feed(7, 10, 2)
	req.NoError(err)
	req.Empty(page)
}

func Test_Feed_Is_Scoped_To_One_Chat(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, _ := newMessageRepository(t, db)
	at := time.Now().UTC()

	_, err := repository.CreateMessage(domain.ChatMember{ID: 1, ChatID: 7, UserID: 42}, "in seven", at)
	req.NoError(err)
	_, err = repository.CreateMessage(domain.ChatMember{ID: 2, ChatID: 8, UserID: 43}, "in eight", at)
	req.NoError(err)

	feed, err := repository.Feed(7, 0, 10)
	req.NoError(err)
	req.Equal([]string{"in seven"}, contentsOf(feed))
}

func Test_Feed_Carries_Attachment_URLs(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	repository, files := newMessageRepository(t, db)
	member := domain.ChatMember{ID: 1, ChatID: 7, UserID: 42}

	message, err := repository.CreateMessage(member, "with files", time.Now().UTC())
	req.NoError(err)

	// Attachments may appear after the message row exists
	req.NoError(files.AttachFile(message.ID, "https://cdn.example/a.png"))
	req.NoError(files.AttachFile(message.ID, "https://cdn.example/b.png"))

	feed, err := repository.Feed(7, 0, 1)
	req.NoError(err)
	req.Len(feed, 1)
	req.Equal([]string{"https://cdn.example/a.png", "https://cdn.example/b.png"}, feed[0].Files)
}

func Test_FilesForMessage_Without_Attachments_Is_Empty(t *testing.T) {
	req := require.New(t)
	db := openTestDB(t)
	_, files := newMessageRepository(t, db)

	urls, err := files.FilesForMessage(404)
	req.NoError(err)
	req.Empty(urls)
}

func contentsOf(feed []domain.FeedEntry) []string {
	return lo.Map(feed, func(item domain.FeedEntry, _ int) string {
		return item.Content
	})
}
