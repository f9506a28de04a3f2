package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/daxia778/tg-monitor/internal/store"
)

// senderName extracts a display name the same way the source collector did
// for Telethon senders, adapted to Bot API's User/Chat shapes: prefer
// "first last", fall back to username, fall back to the numeric id.
func senderName(user *telego.User) string {
	if user == nil {
		return "Unknown"
	}
	parts := make([]string, 0, 2)
	if user.FirstName != "" {
		parts = append(parts, user.FirstName)
	}
	if user.LastName != "" {
		parts = append(parts, user.LastName)
	}
	name := strings.Join(parts, " ")
	if name != "" {
		return name
	}
	if user.Username != "" {
		return user.Username
	}
	return fmt.Sprintf("%d", user.ID)
}

// mediaType classifies a message's attachment the way the source classified
// Telethon MessageMedia variants, mapped onto Bot API's per-kind fields.
func mediaType(msg *telego.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return "photo"
	case msg.Video != nil:
		return "video"
	case msg.Audio != nil:
		return "audio"
	case msg.Voice != nil:
		return "audio"
	case msg.Sticker != nil:
		return "sticker"
	case msg.Animation != nil:
		return "document (animation)"
	case msg.VideoNote != nil:
		return "video"
	case msg.Document != nil:
		mime := msg.Document.MimeType
		if mime != "" {
			return fmt.Sprintf("document (%s)", mime)
		}
		return "document"
	case msg.Contact != nil, msg.Location != nil, msg.Venue != nil, msg.Poll != nil:
		return "webpage"
	default:
		return ""
	}
}

// forwardInfo renders a message's forward origin, mirroring the source's
// "name / peer-kind:id" format built from Telethon's MessageFwdHeader. Bot
// API 7.0 replaced the legacy forward_from* fields with a single polymorphic
// MessageOrigin; this switches on its concrete Bot API 7.0 shapes.
func forwardInfo(msg *telego.Message) string {
	origin := msg.ForwardOrigin
	if origin == nil {
		return ""
	}

	var parts []string
	switch o := origin.(type) {
	case *telego.MessageOriginUser:
		if o.SenderUser != nil {
			parts = append(parts, senderName(o.SenderUser))
			parts = append(parts, fmt.Sprintf("user:%d", o.SenderUser.ID))
		}
	case *telego.MessageOriginHiddenUser:
		if o.SenderUserName != "" {
			parts = append(parts, o.SenderUserName)
		}
	case *telego.MessageOriginChat:
		if o.SenderChat.Title != "" {
			parts = append(parts, o.SenderChat.Title)
		}
		parts = append(parts, fmt.Sprintf("channel:%d", o.SenderChat.ID))
	case *telego.MessageOriginChannel:
		if o.Chat.Title != "" {
			parts = append(parts, o.Chat.Title)
		}
		parts = append(parts, fmt.Sprintf("channel:%d", o.Chat.ID))
	}

	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " / ")
}

// isServiceMessage reports whether msg is a membership/pin/title-change
// notice rather than user content, mirroring the source's `message.action is
// not None` skip in _message_to_dict.
func isServiceMessage(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated ||
		msg.ChannelChatCreated ||
		msg.PinnedMessage != nil ||
		msg.MigrateToChatID != 0 ||
		msg.MigrateFromChatID != 0
}

// decodeMessage converts a telego Message into the row shape Store inserts,
// matching the field set built by the source's _message_to_dict. Returns
// false for service messages, which carry no content worth persisting.
func decodeMessage(msg *telego.Message, groupID int64) (store.NewMessage, bool) {
	if msg == nil || isServiceMessage(msg) {
		return store.NewMessage{}, false
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	var replyTo int64
	var hasReply bool
	if msg.ReplyToMessage != nil {
		replyTo = int64(msg.ReplyToMessage.MessageID)
		hasReply = true
	}

	nm := store.NewMessage{
		ID:          int64(msg.MessageID),
		GroupID:     groupID,
		SenderName:  senderName(msg.From),
		Text:        text,
		Date:        time.Unix(int64(msg.Date), 0).UTC().Format(time.RFC3339),
		MediaType:   mediaType(msg),
		ForwardFrom: forwardInfo(msg),
	}
	if msg.From != nil {
		nm.SenderID.Int64 = int64(msg.From.ID)
		nm.SenderID.Valid = true
	}
	if hasReply {
		nm.ReplyToID.Int64 = replyTo
		nm.ReplyToID.Valid = true
	}

	return nm, true
}
