//go:generate go run go.uber.org/mock/mockgen -source=file.go -destination=../mocks/mock_file_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

type IFileRepository interface {
	AttachFile(messageID int64, url string) error
	FilesForMessage(messageID int64) ([]string, error)
}

// FileRepository stores attachment URLs per message id under
// "file:{message_id}:{n}". Attachments may appear after the message row
// exists: the delayed-reveal path uploads during the wait window and the
// broadcast picks them up with FilesForMessage.
type FileRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewFileRepository(db *badger.DB, log *slog.Logger) *FileRepository {
	return &FileRepository{db: db, log: log}
}

func filePrefix(messageID int64) []byte {
	return []byte(fmt.Sprintf("file:%019d:", messageID))
}

// AttachFile appends one URL to the message's attachment list.
func (r *FileRepository) AttachFile(messageID int64, url string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		count := 0
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		prefix := filePrefix(messageID)
		it := txn.NewIterator(options)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		it.Close()

		key := append(prefix, []byte(fmt.Sprintf("%06d", count))...)
		return txn.Set(key, []byte(url))
	})
}

// FilesForMessage returns the attachment URLs of a message in upload order.
// A message with no attachments yields nil, not an error.
func (r *FileRepository) FilesForMessage(messageID int64) ([]string, error) {
	var urls []string
	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		prefix := filePrefix(messageID)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				urls = append(urls, string(value))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}
