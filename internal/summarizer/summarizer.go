// Package summarizer turns a window of ingested messages into an LLM
// generated digest: single-shot for small windows, chunked map-reduce for
// large ones, and a separate per-group mode that produces one cross-group
// report.
package summarizer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/daxia778/tg-monitor/internal/llm"
	"github.com/daxia778/tg-monitor/internal/store"
)

// chunkSize bounds how many messages go into a single LLM call, to keep
// the context window from blowing out on a busy window.
const chunkSize = 300

// defaultSystemPrompt is used when no operator-configured prompt is set.
const defaultSystemPrompt = "You are a Telegram group chat analysis assistant. Produce a structured summary in plain text — do not use Markdown syntax (no # * ** __); use numbered points and line breaks instead."

const mergeSystemPrompt = "You are an information-merging assistant. Combine the following batch analyses into a single structured summary. Use plain text only, no Markdown syntax (no # * ** __)."

// ProgressFunc reports a step in a running summarization job: text, the
// current step, and the total step count (both on a 0-10 scale, matching
// the source's milestone granularity — mapped onto the registry's 0-100
// scale by the caller as step*10).
type ProgressFunc func(text string, step, total int)

// Summarizer generates digests over ingested messages via a pooled LLM
// backend.
type Summarizer struct {
	store        *store.Store
	pool         *llm.Pool
	systemPrompt string
	model        string
	log          *slog.Logger
}

func New(st *store.Store, pool *llm.Pool, systemPrompt, model string, log *slog.Logger) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{store: st, pool: pool, systemPrompt: systemPrompt, model: model, log: log}
}

func noopProgress(string, int, int) {}

// Summarize produces a digest over [since, until] (or the trailing `hours`
// if since is empty), optionally scoped to one group, optionally
// persisting the result.
func (s *Summarizer) Summarize(ctx context.Context, groupID *int64, since, until string, hours float64, save bool, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noopProgress
	}
	now := time.Now().UTC()
	if since == "" && hours > 0 {
		since = now.Add(-time.Duration(hours * float64(time.Hour))).Format(time.RFC3339)
	}
	if since == "" {
		since = now.Add(-24 * time.Hour).Format(time.RFC3339)
	}
	if until == "" {
		until = now.Format(time.RFC3339)
	}

	progress("extracting messages from store...", 1, 10)

	filter := store.MessageFilter{GroupID: groupID, Since: since, Until: until}
	messages, err := s.store.GetMessages(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("summarizer: get messages: %w", err)
	}
	if len(messages) == 0 {
		return "No messages recorded in this time window.", nil
	}

	groupTitles, err := s.groupTitleMap(ctx)
	if err != nil {
		return "", err
	}

	var summary string
	if len(messages) > chunkSize {
		summary, err = s.summarizeChunked(ctx, messages, groupTitles, progress)
		if err != nil {
			return "", err
		}
	} else {
		progress(fmt.Sprintf("analyzing %d messages...", len(messages)), 5, 10)
		summary, _ = s.callLLM(ctx, formatMessages(messages, groupTitles), "", false)
	}

	summary = cleanMarkdown(summary)

	if summary != "" && !isFailedSummary(summary) && save {
		progress("saving summary result...", 9, 10)
		var gid sql.NullInt64
		if groupID != nil {
			gid = sql.NullInt64{Int64: *groupID, Valid: true}
		}
		if err := s.store.SaveSummary(ctx, gid, since, until, len(messages), summary, s.model); err != nil {
			return "", fmt.Errorf("summarizer: save summary: %w", err)
		}
	}

	progress("summary generation complete", 10, 10)
	return summary, nil
}

// QuickDigest is a non-persisted summary over the trailing `hours`.
func (s *Summarizer) QuickDigest(ctx context.Context, hours float64) (string, error) {
	return s.Summarize(ctx, nil, "", "", hours, false, nil)
}

func (s *Summarizer) groupTitleMap(ctx context.Context) (map[int64]string, error) {
	groups, err := s.store.GetGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarizer: get groups: %w", err)
	}
	out := make(map[int64]string, len(groups))
	for _, g := range groups {
		out[g.ID] = g.Title
	}
	return out, nil
}

// summarizeChunked splits messages into chunkSize batches, summarizes each
// batch concurrently, then merges the batch summaries into one.
func (s *Summarizer) summarizeChunked(ctx context.Context, messages []store.Message, groupTitles map[int64]string, progress ProgressFunc) (string, error) {
	total := len(messages)
	nChunks := (total + chunkSize - 1) / chunkSize

	var processed int32
	var mu sync.Mutex
	results := make([]string, nChunks)

	var wg sync.WaitGroup
	for i := 0; i < nChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > total {
			end = total
		}
		idx := i

		wg.Add(1)
		go func() {
			defer wg.Done()
			chunkText := formatMessages(messages[start:end], groupTitles)
			extra := fmt.Sprintf("(this is batch %d of %d; extract this batch's key points first)", idx+1, nChunks)

			res, err := s.callLLM(ctx, chunkText, extra, false)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Error("chunk summarize failed", "batch", idx+1, "of", nChunks, "error", err)
			}
			results[idx] = res
			processed++
			p := 2 + int((float64(processed)/float64(nChunks))*5)
			progress(fmt.Sprintf("analyzing batch %d/%d...", processed, nChunks), p, 10)
		}()
	}
	wg.Wait()

	var chunkSummaries []string
	for _, r := range results {
		if r != "" && !isFailedSummary(r) {
			chunkSummaries = append(chunkSummaries, r)
		}
	}

	if len(chunkSummaries) == 0 {
		return "❌ all batches failed to summarize, check network or configuration", nil
	}

	switch {
	case len(chunkSummaries) > 1:
		progress("merging batch analyses...", 8, 10)
		mergePrompt := "Merge the following batch analyses of a group chat into one complete summary, remove duplicated content, and keep all important information:\n\n" +
			strings.Join(chunkSummaries, "\n\n---\n\n")
		final, err := s.callLLM(ctx, mergePrompt, "", true)
		if err != nil || isFailedSummary(final) {
			return strings.Join(chunkSummaries, "\n\n---\n\n"), nil
		}
		return final, nil
	default:
		return chunkSummaries[0], nil
	}
}

// callLLM issues one pooled LLM call with the appropriate system prompt.
func (s *Summarizer) callLLM(ctx context.Context, content, extraInstruction string, isMerge bool) (string, error) {
	system := mergeSystemPrompt
	if !isMerge {
		system = s.systemPrompt
		if system == "" {
			system = defaultSystemPrompt
		}
	}
	if extraInstruction != "" {
		system += "\n" + extraInstruction
	}

	reply, err := s.pool.Call(ctx, system, content)
	if err != nil {
		s.log.Error("llm call failed after retries", "error", err)
		return fmt.Sprintf("❌ llm call failed after retries: %v", err), fmt.Errorf("llm call failed after retries: %w", err)
	}
	return reply, nil
}

// isFailedSummary reports whether s is a sentinel produced when an LLM call
// exhausted its retries, so callers can exclude it instead of treating it
// as a usable summary.
func isFailedSummary(s string) bool {
	return strings.HasPrefix(s, "❌")
}

// SummarizePerGroup produces one summary per active group, then merges
// them into a cross-group report using the daily-overview template.
func (s *Summarizer) SummarizePerGroup(ctx context.Context, hours float64, save bool, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = noopProgress
	}
	now := time.Now().UTC()
	since := now.Add(-time.Duration(hours * float64(time.Hour))).Format(time.RFC3339)
	until := now.Format(time.RFC3339)

	progress("initializing group list...", 1, 10)
	groups, err := s.store.GetGroups(ctx)
	if err != nil {
		return "", fmt.Errorf("summarizer: get groups: %w", err)
	}
	groupTitles := make(map[int64]string, len(groups))
	for _, g := range groups {
		groupTitles[g.ID] = g.Title
	}

	progress("counting messages per group...", 2, 10)
	type activeGroup struct {
		group store.Group
		count int
	}
	var active []activeGroup
	for _, g := range groups {
		gid := g.ID
		count, err := s.store.GetMessageCount(ctx, store.MessageFilter{GroupID: &gid, Since: since, Until: until})
		if err != nil {
			return "", fmt.Errorf("summarizer: count messages for group %d: %w", gid, err)
		}
		if count > 0 {
			active = append(active, activeGroup{group: g, count: count})
		}
	}
	if len(active) == 0 {
		return "No messages recorded in this time window.", nil
	}

	totalMsgs := 0
	for _, a := range active {
		totalMsgs += a.count
	}
	progress(fmt.Sprintf("found %d active groups, %d messages, analyzing concurrently...", len(active), totalMsgs), 3, 10)

	var processed int32
	var mu sync.Mutex
	summaries := make([]string, len(active))
	var wg sync.WaitGroup
	var firstErr error

	for i, a := range active {
		idx := i
		gid := a.group.ID
		title := groupTitles[gid]
		if title == "" {
			title = fmt.Sprintf("group %d", gid)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			messages, err := s.store.GetMessages(ctx, store.MessageFilter{GroupID: &gid, Since: since, Until: until})
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("get messages for group %d: %w", gid, err)
				}
				mu.Unlock()
				return
			}

			var summary string
			if len(messages) > chunkSize {
				summary, _ = s.summarizeChunked(ctx, messages, groupTitles, noopProgress)
			} else {
				formatted := formatMessages(messages, groupTitles)
				extra := fmt.Sprintf("This is the message log for group \"%s\". Focus on the core topics and conclusions discussed there.", title)
				summary, _ = s.callLLM(ctx, formatted, extra, false)
			}

			mu.Lock()
			if summary != "" && !isFailedSummary(summary) {
				summaries[idx] = fmt.Sprintf("%s\n\n%s", title, summary)
			} else if summary != "" {
				s.log.Error("group summarize failed", "group_id", gid, "title", title)
			}
			processed++
			p := 3 + int((float64(processed)/float64(len(active)))*5)
			progress(fmt.Sprintf("[%s] analysis complete (%d/%d)", title, processed, len(active)), p, 10)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return "", fmt.Errorf("summarizer: per-group summarize: %w", firstErr)
	}

	var groupSummaries []string
	for _, sm := range summaries {
		if sm != "" {
			groupSummaries = append(groupSummaries, sm)
		}
	}
	if len(groupSummaries) == 0 {
		return "❌ all groups failed to summarize, check network or configuration", nil
	}

	progress("merging cross-group overview report...", 9, 10)

	var result string
	if len(groupSummaries) > 1 {
		mergePrompt := crossGroupMergePrompt(groupSummaries)
		final, err := s.callLLM(ctx, mergePrompt, "", true)
		if err != nil || isFailedSummary(final) {
			result = strings.Join(groupSummaries, "\n\n----\n\n")
		} else {
			result = final
		}
	} else {
		result = groupSummaries[0]
	}

	result = cleanMarkdown(result)

	if save && !isFailedSummary(result) {
		if err := s.store.SaveSummary(ctx, sql.NullInt64{}, since, until, totalMsgs, result, s.model); err != nil {
			return "", fmt.Errorf("summarizer: save per-group summary: %w", err)
		}
	}

	progress("report generation complete", 10, 10)
	return result, nil
}

// crossGroupMergePrompt builds the fixed-section cross-group overview
// template, reproduced verbatim (translated) from the source's daily
// report merge prompt.
func crossGroupMergePrompt(groupSummaries []string) string {
	return "Below are independent analyses of several Telegram groups.\n" +
		"Combine them into one complete cross-group overview report, formatted as follows:\n\n" +
		"[Today at a Glance]\n" +
		"2-3 sentences summarizing the overall activity and mood across all groups.\n\n" +
		"----\n" +
		"[Per-Group Activity]\n" +
		"- Group name: what happened (one sentence), activity level\n\n" +
		"----\n" +
		"[Worth a Look]\n" +
		"- Specify which group, what time window, and what kind of content is worth reviewing\n\n" +
		"----\n" +
		"[Risks & Flags]\n" +
		"- Warnings/complaints/anomalies (omit this section if none)\n\n" +
		"----\n" +
		"[Suggested Actions]\n" +
		"- 2-4 concrete actions to take today\n\n" +
		"Do not use Markdown syntax (no # * ** __); use \"-\" for list items.\n\n" +
		"Per-group analysis data follows:\n\n" +
		strings.Join(groupSummaries, "\n\n----\n\n")
}

// DailyReport composes a stats header with a per-group cross-summary, the
// source's scheduled daily push payload.
func (s *Summarizer) DailyReport(ctx context.Context) (string, error) {
	since := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	stats, err := s.store.GetStats(ctx, since, "")
	if err != nil {
		return "", fmt.Errorf("summarizer: daily report stats: %w", err)
	}

	var b strings.Builder
	b.WriteString("Today's activity overview:\n\n")
	for _, st := range stats {
		title := "?"
		if st.GroupTitle.Valid {
			title = st.GroupTitle.String
		}
		fmt.Fprintf(&b, "  - %s: %d messages, %d active users\n", title, st.MessageCount, st.ActiveUsers)
	}

	summary, err := s.SummarizePerGroup(ctx, 24, true, nil)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s\n\n---\n\n%s", b.String(), summary), nil
}
