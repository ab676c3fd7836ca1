package bus

import "time"

// Event kinds published by the chat client and its collaborators.
const (
	KindAuthChanged       = "auth.changed"
	KindStatusChanged     = "connection.status_changed"
	KindDirectoryChanged  = "chat.directory_changed"
	KindMessagesChanged   = "chat.messages_changed"
	KindSelectionChanged  = "chat.selection_changed"
	KindNoticeConnection  = "notice.connection"
	KindNoticeSendFailed  = "notice.send_failed"
	KindNoticeCommand     = "notice.command"
	KindNoticeServerError = "notice.server_error"
	NamespaceNotice       = "notice."
	NamespaceChat         = "chat."
	NamespaceAuth         = "auth."
	NamespaceConnection   = "connection."
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notice is the payload of every notice.* event: a user-visible message.
type Notice struct {
	Text string
	Err  error
}
