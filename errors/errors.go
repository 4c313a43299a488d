package errors

import "fmt"

var (
	ErrInvalidCredential  = fmt.Errorf("credential could not be resolved to a user")
	ErrChatNotFound       = fmt.Errorf("chat not found")
	ErrMembershipNotFound = fmt.Errorf("user is not a member of this chat")
	ErrMessageNotFound    = fmt.Errorf("message not found")
	ErrCacheMiss          = fmt.Errorf("membership cache miss")
	ErrSelfSubscription   = fmt.Errorf("subscribing to yourself is not allowed")
	ErrConflictingTargets = fmt.Errorf("id present in both subscribe and unsubscribe")
	ErrContentTooLong     = fmt.Errorf("content exceeds the maximum length")
)
