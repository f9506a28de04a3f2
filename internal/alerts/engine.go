// Package alerts implements keyword-triggered notifications over the
// ingested message stream, with dedup state persisted to Store so a
// restart doesn't resend alerts for messages already flagged.
package alerts

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/daxia778/tg-monitor/internal/notify"
	"github.com/daxia778/tg-monitor/internal/store"
)

// bjt is the fixed +08:00 offset used to render alert timestamps, matching
// the source's Beijing-time display regardless of server locale.
var bjt = time.FixedZone("BJT", 8*60*60)

const dedupCapacity = 2000

// Engine checks ingested messages against a keyword list and pushes a
// notification on first match, deduped by a combined FIFO+set cache
// mirrored from (and rehydrated from) Store.
type Engine struct {
	enabled      bool
	ownerChatID  string
	keywords     []string
	patterns     []*regexp.Regexp
	sender       *notify.Sender
	store        *store.Store
	log          *slog.Logger

	mu        sync.Mutex
	fifo      *list.List
	fifoIndex map[string]*list.Element
}

// Config is the static portion of Engine construction; the enabled flag
// itself is re-read dynamically per check from the settings table so it
// can be toggled at runtime without a restart.
type Config struct {
	OwnerChatID string
	Keywords    []string
}

func New(cfg Config, sender *notify.Sender, st *store.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	patterns := make([]*regexp.Regexp, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		patterns[i] = regexp.MustCompile("(?i)" + regexp.QuoteMeta(kw))
	}
	return &Engine{
		ownerChatID: cfg.OwnerChatID,
		keywords:    cfg.Keywords,
		patterns:    patterns,
		sender:      sender,
		store:       st,
		log:         log,
		fifo:        list.New(),
		fifoIndex:   make(map[string]*list.Element),
	}
}

// LoadFromStore rehydrates the dedup cache with the last 24h of alerted
// message keys, so a restart doesn't re-alert on messages already seen
// just before it went down.
func (e *Engine) LoadFromStore(ctx context.Context) {
	ids := e.store.RecentAlertedIDs(ctx, 24)
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range ids {
		e.rememberLocked(key)
	}
	e.log.Info("loaded alert dedup history", "count", len(ids))
}

// rememberLocked inserts key into the FIFO+set cache, evicting the oldest
// entry once at capacity. Caller must hold e.mu.
func (e *Engine) rememberLocked(key string) {
	if _, ok := e.fifoIndex[key]; ok {
		return
	}
	if e.fifo.Len() >= dedupCapacity {
		oldest := e.fifo.Front()
		if oldest != nil {
			e.fifo.Remove(oldest)
			delete(e.fifoIndex, oldest.Value.(string))
		}
	}
	e.fifoIndex[key] = e.fifo.PushBack(key)
}

func (e *Engine) seenLocked(key string) bool {
	_, ok := e.fifoIndex[key]
	return ok
}

// Check matches a message's text against the keyword list, sending and
// recording an alert on first match. Returns the matched keywords joined
// for logging/tests, or "" if nothing fired.
func (e *Engine) Check(ctx context.Context, groupID, msgID int64, groupName, senderName, text, dateISO string) string {
	enabled := e.enabled
	if e.store != nil {
		if v, err := e.store.GetSettingBool(ctx, "alerts_enabled", e.enabled); err == nil {
			enabled = v
		}
	}
	if !enabled || len(e.patterns) == 0 || text == "" {
		return ""
	}

	msgKey := fmt.Sprintf("%d_%d", groupID, msgID)

	e.mu.Lock()
	if e.seenLocked(msgKey) {
		e.mu.Unlock()
		return ""
	}
	e.mu.Unlock()

	var matched []string
	for i, p := range e.patterns {
		if p.MatchString(text) {
			matched = append(matched, e.keywords[i])
		}
	}
	if len(matched) == 0 {
		return ""
	}

	e.mu.Lock()
	e.rememberLocked(msgKey)
	e.mu.Unlock()

	if e.store != nil {
		e.store.AddAlertedMessage(ctx, msgKey)
	}

	keywordsStr := formatKeywords(matched)
	display := text
	if len(display) > 300 {
		display = display[:300] + "..."
	}

	alertText := fmt.Sprintf(
		"Keyword alert\n\nMatched: %s\nGroup: %s\nSender: %s\nTime: %s\n\nMessage:\n%s",
		keywordsStr, groupName, senderName, toBJT(dateISO), display,
	)

	if e.sender != nil {
		if err := e.sender.Send(ctx, notify.Notification{ChatID: e.ownerChatID, Text: alertText}); err != nil {
			e.log.Error("alert push failed", "error", err)
		}
	}
	e.log.Info("alert triggered", "keywords", keywordsStr, "group", groupName, "sender", senderName)

	return keywordsStr
}

// SetEnabled updates the config-file default used when no dynamic setting
// is stored yet.
func (e *Engine) SetEnabled(enabled bool) {
	e.enabled = enabled
}

func formatKeywords(matched []string) string {
	quoted := make([]string, len(matched))
	for i, m := range matched {
		quoted[i] = "\"" + m + "\""
	}
	return strings.Join(quoted, ", ")
}

// toBJT renders an ISO-8601 timestamp in Beijing time, matching the
// source's operator-facing display regardless of where the process runs.
func toBJT(iso string) string {
	if iso == "" {
		return "?"
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		if len(iso) >= 16 {
			return strings.ReplaceAll(iso[:16], "T", " ")
		}
		return iso
	}
	return t.In(bjt).Format("01-02 15:04")
}
