package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/config"
	"github.com/wraithsec/wraith-cli/internal/observability"
)

// summaryClampChars caps how much of one message is fed into the
// summarization prompt.
const summaryClampChars = 2000

// approxTokensPerWord is the fallback estimate when no tokenizer is
// available.
const approxTokensPerWord = 1.3

// SummarizeFunc performs one model call to condense conversation text.
type SummarizeFunc func(ctx context.Context, prompt string) (string, error)

// ConversationMemory bounds a growing message history inside a token budget.
// Without a model call it truncates from the front; with one it folds the
// oldest portion into a cached summary.
type ConversationMemory struct {
	maxTokens          int
	reserveRatio       float64
	recentToKeep       int
	summarizeThreshold float64

	encInit sync.Once
	enc     *tiktoken.Tiktoken

	mu           sync.Mutex
	summary      string
	summaryCount int

	log *zap.Logger
}

// NewConversationMemory builds a memory manager from config, filling missing
// values with the defaults.
func NewConversationMemory(cfg config.MemoryConfig) *ConversationMemory {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 128000
	}
	if cfg.ReserveRatio <= 0 {
		cfg.ReserveRatio = 0.8
	}
	if cfg.RecentToKeep <= 0 {
		cfg.RecentToKeep = 10
	}
	if cfg.SummarizeThreshold <= 0 {
		cfg.SummarizeThreshold = 0.6
	}
	return &ConversationMemory{
		maxTokens:          cfg.MaxTokens,
		reserveRatio:       cfg.ReserveRatio,
		recentToKeep:       cfg.RecentToKeep,
		summarizeThreshold: cfg.SummarizeThreshold,
		log:                observability.GetLogger().Named("memory"),
	}
}

// TokenBudget is the share of the context window history may occupy.
func (m *ConversationMemory) TokenBudget() int {
	return int(float64(m.maxTokens) * m.reserveRatio)
}

// encoding lazily initializes the BPE tokenizer. A load failure leaves it nil
// and the word-count approximation takes over.
func (m *ConversationMemory) encoding() *tiktoken.Tiktoken {
	m.encInit.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			m.log.Warn("Tokenizer unavailable, using word-count approximation.", zap.Error(err))
			return
		}
		m.enc = enc
	})
	return m.enc
}

// CountTokens estimates the token cost of one message, including any tool
// calls and results it carries.
func (m *ConversationMemory) CountTokens(msg schemas.Message) int {
	text := msg.Content
	if len(msg.ToolCalls) > 0 {
		if blob, err := json.Marshal(msg.ToolCalls); err == nil {
			text += string(blob)
		}
	}
	if len(msg.ToolResults) > 0 {
		if blob, err := json.Marshal(msg.ToolResults); err == nil {
			text += string(blob)
		}
	}
	if enc := m.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	words := len(strings.Fields(text))
	return int(float64(words) * approxTokensPerWord)
}

// TotalTokens sums CountTokens over messages.
func (m *ConversationMemory) TotalTokens(messages []schemas.Message) int {
	total := 0
	for _, msg := range messages {
		total += m.CountTokens(msg)
	}
	return total
}

// FitsInContext reports whether the history fits the budget as-is.
func (m *ConversationMemory) FitsInContext(messages []schemas.Message) bool {
	return m.TotalTokens(messages) <= m.TokenBudget()
}

// GetMessages bounds history without a model call. If a cached summary covers
// a prefix, it is prepended as a synthetic system message and the uncovered
// suffix is truncated from the front to fit; otherwise raw history is
// truncated from the front.
func (m *ConversationMemory) GetMessages(history []schemas.Message) []schemas.Message {
	m.mu.Lock()
	summary, count := m.summary, m.summaryCount
	m.mu.Unlock()

	if summary != "" && count > 0 && count <= len(history) {
		summaryMsg := m.summaryMessage(summary, count)
		budget := m.TokenBudget() - m.CountTokens(summaryMsg)
		suffix := m.truncateToFit(history[count:], budget)
		return append([]schemas.Message{summaryMsg}, suffix...)
	}
	return m.truncateToFit(history, m.TokenBudget())
}

// GetMessagesWithSummary bounds history, summarizing the oldest portion with
// one model call when it has grown past the threshold. Summarization failure
// degrades to a placeholder summary; it is never fatal.
func (m *ConversationMemory) GetMessagesWithSummary(ctx context.Context, history []schemas.Message, summarize SummarizeFunc) []schemas.Message {
	total := m.TotalTokens(history)
	if float64(total) < m.summarizeThreshold*float64(m.TokenBudget()) {
		return history
	}
	if len(history) <= m.recentToKeep || summarize == nil {
		return m.truncateToFit(history, m.TokenBudget())
	}

	split := len(history) - m.recentToKeep
	older, recent := history[:split], history[split:]

	m.mu.Lock()
	summary, count := m.summary, m.summaryCount
	m.mu.Unlock()

	// The cached summary stays valid as long as it covers at least the new
	// split point; a shrinking split never forces a re-summarization.
	if summary != "" && split <= count && count <= len(history) {
		out := make([]schemas.Message, 0, 1+len(history)-count)
		out = append(out, m.summaryMessage(summary, count))
		out = append(out, history[count:]...)
		return out
	}

	summary = m.summarizeMessages(ctx, older, summarize)
	m.mu.Lock()
	m.summary = summary
	m.summaryCount = split
	m.mu.Unlock()

	out := make([]schemas.Message, 0, 1+len(recent))
	out = append(out, m.summaryMessage(summary, split))
	out = append(out, recent...)
	return out
}

// summarizeMessages runs one model call over the formatted older portion.
func (m *ConversationMemory) summarizeMessages(ctx context.Context, older []schemas.Message, summarize SummarizeFunc) string {
	prompt := "Summarize this security assessment conversation so far. Preserve, with exact values:\n" +
		"- targets and hosts touched\n" +
		"- open ports and services discovered\n" +
		"- credentials found or used\n" +
		"- vulnerabilities identified\n" +
		"- approaches that failed and why\n" +
		"- the current objective\n\nConversation:\n" +
		m.formatForSummary(older)

	summary, err := summarize(ctx, prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		m.log.Warn("Conversation summarization failed, using placeholder.", zap.Error(err))
		return fmt.Sprintf("[%d earlier messages - summarization failed: %v]", len(older), err)
	}
	m.log.Debug("Conversation prefix summarized.",
		zap.Int("messages", len(older)),
		zap.Int("summary_chars", len(summary)))
	return summary
}

// formatForSummary renders messages as role-prefixed lines, clamping each to
// a fixed length so one huge tool output cannot dominate the prompt.
func (m *ConversationMemory) formatForSummary(messages []schemas.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				names = append(names, call.Name)
			}
			content = "(called tools: " + strings.Join(names, ", ") + ")"
		}
		if len(content) > summaryClampChars {
			content = content[:summaryClampChars] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
	}
	return b.String()
}

// summaryMessage wraps summary text as a synthetic system message.
func (m *ConversationMemory) summaryMessage(summary string, covered int) schemas.Message {
	return schemas.Message{
		Role:    schemas.RoleSystem,
		Content: fmt.Sprintf("[Summary of %d earlier messages]\n%s", covered, summary),
		Metadata: map[string]interface{}{
			"summary":          true,
			"covered_messages": covered,
		},
	}
}

// truncateToFit drops messages from the front until the suffix fits budget.
// The result is non-empty whenever the last message alone fits.
func (m *ConversationMemory) truncateToFit(messages []schemas.Message, budget int) []schemas.Message {
	if len(messages) == 0 || budget <= 0 {
		return nil
	}
	total := m.TotalTokens(messages)
	start := 0
	for start < len(messages)-1 && total > budget {
		total -= m.CountTokens(messages[start])
		start++
	}
	if total > budget {
		// Even the last message alone is over budget.
		return nil
	}
	return messages[start:]
}

// ClearSummaryCache drops the cached summary. This is the only way the cache
// is ever invalidated.
func (m *ConversationMemory) ClearSummaryCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = ""
	m.summaryCount = 0
}

// Stats reports memory bookkeeping for diagnostics.
func (m *ConversationMemory) Stats(history []schemas.Message) map[string]interface{} {
	m.mu.Lock()
	summaryCached := m.summary != ""
	covered := m.summaryCount
	m.mu.Unlock()

	return map[string]interface{}{
		"messages":         len(history),
		"total_tokens":     m.TotalTokens(history),
		"token_budget":     m.TokenBudget(),
		"summary_cached":   summaryCached,
		"summary_messages": covered,
	}
}
