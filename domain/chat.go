// Package domain contains core concepts of the chat system.
// This file defines Chat and ChatMember entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// SystemSenderID is the reserved sender id attached to system messages when
// they are merged into a chat feed. Real user ids are strictly positive.
const SystemSenderID int64 = -1

// Chat is a conversation scope. It is either a 1:1 dialog or a multi-member
// room, distinguished by IsDialog. Chats are never mutated after creation.
type Chat struct {
	ID        int64
	IsDialog  bool
	CreatedAt time.Time
}

// ChatMember joins one user to one chat. Every authored message is
// attributed to a ChatMember, not directly to a user.
type ChatMember struct {
	ID     int64
	ChatID int64
	UserID int64
}
