// Package domain contains core concepts of the chat system.
// This file defines Message events and related rules.
// Messages are immutable and validated by the domain.
package domain

import "time"

// MaxContentLength bounds the content of an inbound chat message, in characters.
const MaxContentLength = 4096

// Message represents an immutable chat event authored by a chat member.
type Message struct {
	ID        int64
	MemberID  int64
	ChatID    int64
	UserID    int64
	Content   string
	CreatedAt time.Time
}

// SystemMessage is a chat-level notice that no member authored, e.g. a
// "user joined" banner. It carries SystemSenderID when merged into a feed.
type SystemMessage struct {
	ID        int64
	ChatID    int64
	Content   string
	CreatedAt time.Time
}

// FeedEntry is one row of the merged chat history: a Message or a
// SystemMessage projected onto a common shape, plus its attachment URLs.
type FeedEntry struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"user_id"`
	Content   string    `json:"content"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"-"`
}

// System reports whether the entry was merged from a SystemMessage.
func (e FeedEntry) System() bool {
	return e.SenderID == SystemSenderID
}
