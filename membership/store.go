//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_membership_store.go -package=mocks

// Package membership wraps the shared key-value store. Unlike the
// process-local connection registry, everything here is visible across
// processes and is the source of truth for "is user X online" and "who is
// subscribed to whom".
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	apperrors "market-chat/errors"
)

type IStore interface {
	ChatMembers(ctx context.Context, chatID int64) ([]int64, error)
	CacheChatMembers(ctx context.Context, chatID int64, userIDs []int64) error
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	Subscribers(ctx context.Context, userID int64) ([]int64, error)
	Publishers(ctx context.Context, userID int64) ([]int64, error)
	ApplySubscriptions(ctx context.Context, userID int64, subscribe, unsubscribe []int64) error
	ClearSubscriptions(ctx context.Context, userID int64) error
}

// Store keeps four families of keys:
//   - "chat_members:{chat_id}": cached member set of a chat, bounded TTL so
//     stale caches lapse and re-populate from persistence.
//   - "online_users": set of user ids with at least one open connection.
//   - "pub:{publisher}": who wants to hear about this user's state changes.
//   - "sub:{subscriber}": which users this subscriber follows.
//
// pub/sub mirror each other so disconnect cleanup can walk either
// direction. Both expire after presenceTTL: subscriptions silently lapse
// and clients are expected to re-subscribe, a deliberate availability over
// consistency tradeoff.
type Store struct {
	client      *redis.Client
	log         *slog.Logger
	memberTTL   time.Duration
	presenceTTL time.Duration
}

func NewStore(client *redis.Client, log *slog.Logger, memberTTL, presenceTTL time.Duration) *Store {
	return &Store{client: client, log: log, memberTTL: memberTTL, presenceTTL: presenceTTL}
}

const onlineKey = "online_users"

func chatMembersKey(chatID int64) string {
	return fmt.Sprintf("chat_members:%d", chatID)
}

func publishersOfKey(subscriberID int64) string {
	return fmt.Sprintf("sub:%d", subscriberID)
}

func subscribersOfKey(publisherID int64) string {
	return fmt.Sprintf("pub:%d", publisherID)
}

// ChatMembers reads the cached member set of a chat. An absent or expired
// key surfaces as ErrCacheMiss; a chat never has an empty member set, so
// the two cases are indistinguishable on purpose.
func (s *Store) ChatMembers(ctx context.Context, chatID int64) ([]int64, error) {
	values, err := s.client.SMembers(ctx, chatMembersKey(chatID)).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, apperrors.ErrCacheMiss
	}
	return parseIDs(values)
}

// CacheChatMembers populates the member cache with a bounded TTL.
func (s *Store) CacheChatMembers(ctx context.Context, chatID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	key := chatMembersKey(chatID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, formatIDs(userIDs)...)
	pipe.Expire(ctx, key, s.memberTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) SetOnline(ctx context.Context, userID int64) error {
	return s.client.SAdd(ctx, onlineKey, formatID(userID)).Err()
}

func (s *Store) SetOffline(ctx context.Context, userID int64) error {
	return s.client.SRem(ctx, onlineKey, formatID(userID)).Err()
}

func (s *Store) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return s.client.SIsMember(ctx, onlineKey, formatID(userID)).Result()
}

// Subscribers returns the users that want to hear about userID's state
// changes, i.e. the "pub:{userID}" set.
func (s *Store) Subscribers(ctx context.Context, userID int64) ([]int64, error) {
	values, err := s.client.SMembers(ctx, subscribersOfKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(values)
}

// Publishers returns the users that userID follows, i.e. the
// "sub:{userID}" set.
func (s *Store) Publishers(ctx context.Context, userID int64) ([]int64, error) {
	values, err := s.client.SMembers(ctx, publishersOfKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(values)
}

// ApplySubscriptions applies one validated subscribe/unsubscribe request as
// a single atomic pipeline: both mirror relations are updated together, so
// no interleaved request can observe one side without the other.
func (s *Store) ApplySubscriptions(ctx context.Context, userID int64, subscribe, unsubscribe []int64) error {
	if len(subscribe) == 0 && len(unsubscribe) == 0 {
		return nil
	}
	ownKey := publishersOfKey(userID)
	self := formatID(userID)

	pipe := s.client.TxPipeline()
	if len(subscribe) > 0 {
		pipe.SAdd(ctx, ownKey, formatIDs(subscribe)...)
		pipe.Expire(ctx, ownKey, s.presenceTTL)
		for _, target := range subscribe {
			targetKey := subscribersOfKey(target)
			pipe.SAdd(ctx, targetKey, self)
			pipe.Expire(ctx, targetKey, s.presenceTTL)
		}
	}
	for _, target := range unsubscribe {
		pipe.SRem(ctx, ownKey, formatID(target))
		pipe.SRem(ctx, subscribersOfKey(target), self)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ClearSubscriptions removes every trace of userID from the presence
// relations: its own "sub:" set is deleted and it is dropped from the
// "pub:" set of every publisher it followed. Used on last disconnect.
func (s *Store) ClearSubscriptions(ctx context.Context, userID int64) error {
	publishers, err := s.Publishers(ctx, userID)
	if err != nil {
		return err
	}
	self := formatID(userID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, publishersOfKey(userID))
	for _, publisher := range publishers {
		pipe.SRem(ctx, subscribersOfKey(publisher), self)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatIDs(ids []int64) []any {
	return lo.Map(ids, func(id int64, _ int) any {
		return formatID(id)
	})
}

func parseIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, value := range values {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt id %q in membership store: %w", value, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
