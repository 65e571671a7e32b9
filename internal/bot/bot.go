package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/models"
	"github.com/xaenox/icp-bot/internal/search"
	"github.com/xaenox/icp-bot/internal/storage"
)

const (
	historyLength = 6
	chatQueueSize = 32
)

// sender is the part of the Telegram API the bot replies through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// chatSession ties a Telegram chat to its conversation and search state.
type chatSession struct {
	// turnMu is held for a whole turn so a chat never runs two at once.
	turnMu sync.Mutex

	conversationID string
	pendingType    models.SearchType
	machine        *search.Machine
}

type Bot struct {
	api           *tgbotapi.BotAPI
	out           sender
	conversations *conversation.Service
	searcher      search.Searcher
	logger        *zap.Logger

	mu       sync.Mutex
	sessions map[int64]*chatSession
	queues   map[int64]chan *tgbotapi.Message
}

// New connects to Telegram. searcher may be nil, which disables /search.
func New(token string, conversations *conversation.Service, searcher search.Searcher, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, conversations, searcher, logger)
	b.api = api
	return b, nil
}

func newBot(out sender, conversations *conversation.Service, searcher search.Searcher, logger *zap.Logger) *Bot {
	return &Bot{
		out:           out,
		conversations: conversations,
		searcher:      searcher,
		logger:        logger,
		sessions:      make(map[int64]*chatSession),
		queues:        make(map[int64]chan *tgbotapi.Message),
	}
}

// Start polls Telegram for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.enqueue(ctx, update.Message)
		}
	}
}

// enqueue hands message to its chat's worker. Each chat is drained by one
// goroutine, so its messages are handled in the order they arrived.
func (b *Bot) enqueue(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	b.mu.Lock()
	queue, ok := b.queues[chatID]
	if !ok {
		queue = make(chan *tgbotapi.Message, chatQueueSize)
		b.queues[chatID] = queue
		go b.drain(ctx, queue)
	}
	b.mu.Unlock()

	select {
	case queue <- message:
	case <-ctx.Done():
	}
}

func (b *Bot) drain(ctx context.Context, queue <-chan *tgbotapi.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-queue:
			b.handleMessage(ctx, message)
		}
	}
}

func (b *Bot) session(chatID int64) *chatSession {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[chatID]
	if !ok {
		s = &chatSession{machine: search.NewMachine(b.searcher, b.logger)}
		b.sessions[chatID] = s
	}
	return s
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	b.handleTurn(ctx, message, content)
}

func (b *Bot) handleTurn(ctx context.Context, message *tgbotapi.Message, content string) {
	chatID := message.Chat.ID
	sess := b.session(chatID)

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	b.mu.Lock()
	req := conversation.TurnRequest{
		UserMessage:    content,
		ConversationID: sess.conversationID,
		UserID:         userID(message),
		SearchType:     sess.pendingType,
	}
	b.mu.Unlock()

	result, err := b.conversations.ProcessTurn(ctx, req)
	if err != nil {
		b.logger.Error("Failed to process turn",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.String("conversation_id", req.ConversationID))
		b.sendErrorMessage(chatID, turnErrorText(err))
		return
	}

	b.mu.Lock()
	sess.conversationID = result.ConversationID
	sess.pendingType = ""
	b.mu.Unlock()

	sess.machine.ApplyCanonical(result.UpdatedFilters, result.SearchType)
	b.sendMarkdown(chatID, message.MessageID, formatTurn(result))
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "filters":
		b.handleFilters(ctx, message)
	case "search":
		b.handleSearch(ctx, message)
	case "next":
		b.handlePage(ctx, message, true)
	case "prev":
		b.handlePage(ctx, message, false)
	case "type":
		b.handleType(message)
	case "new":
		b.handleNew(ctx, message)
	case "reset":
		b.handleReset(message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to ICP Bot! 🎯
Describe the customers you want to reach and I'll turn it into search filters.

Try "CTOs at fintech companies in the US with 50-200 employees", then refine it: "change that to CMO", "not in California", "hiring recently".
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/filters - Show the current filters
/search - Run a search with the current filters
/next - Next page of results
/prev - Previous page of results
/type people|company - Switch between people and company search
/reset - Clear the search filters
/new - Start a new conversation
/history - Show recent messages

Anything else you send refines your target audience.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleFilters(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	state := b.session(chatID).machine.State()

	if !state.HasActiveFilters() {
		b.sendMessage(chatID, "No filters set yet. Describe your ideal customer to get started.")
		return
	}

	text := fmt.Sprintf("*%s filters:*\n%s", escapeMarkdown(titleCase(string(state.SearchType))), formatFilters(state.ActiveFilters()))
	b.sendMarkdown(chatID, 0, text)
}

func (b *Bot) handleSearch(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if b.searcher == nil {
		b.sendMessage(chatID, "Search is not configured.")
		return
	}

	state := b.session(chatID).machine.Search(ctx)
	b.sendSearchResults(chatID, state)
}

func (b *Bot) handlePage(ctx context.Context, message *tgbotapi.Message, forward bool) {
	chatID := message.Chat.ID
	if b.searcher == nil {
		b.sendMessage(chatID, "Search is not configured.")
		return
	}

	machine := b.session(chatID).machine
	var (
		state search.State
		ran   bool
	)
	if forward {
		state, ran = machine.NextPage(ctx)
	} else {
		state, ran = machine.PrevPage(ctx)
	}
	if !ran {
		b.sendMessage(chatID, "No more pages in that direction.")
		return
	}
	b.sendSearchResults(chatID, state)
}

func (b *Bot) handleType(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	searchType := models.SearchType(strings.ToLower(strings.TrimSpace(message.CommandArguments())))
	if !searchType.Valid() {
		b.sendMessage(chatID, "Usage: /type people or /type company")
		return
	}

	sess := b.session(chatID)
	b.mu.Lock()
	sess.pendingType = searchType
	b.mu.Unlock()
	sess.machine.Dispatch(search.SetSearchType{Type: searchType})

	b.sendMessage(chatID, fmt.Sprintf("Switched to %s search.", searchType))
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	b.mu.Lock()
	sess := b.sessions[chatID]
	delete(b.sessions, chatID)
	b.mu.Unlock()

	if sess != nil && sess.conversationID != "" {
		if err := b.conversations.Delete(ctx, sess.conversationID); err != nil {
			b.logger.Error("Failed to delete conversation",
				zap.Error(err),
				zap.String("conversation_id", sess.conversationID))
		}
	}
	b.sendMessage(chatID, "Started a new conversation. Describe your ideal customer.")
}

func (b *Bot) handleReset(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.session(chatID).machine.Dispatch(search.ResetFilters{})
	b.sendMessage(chatID, "Search filters cleared. The conversation history is kept.")
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	b.mu.Lock()
	var id string
	if sess, ok := b.sessions[chatID]; ok {
		id = sess.conversationID
	}
	b.mu.Unlock()

	if id == "" {
		b.sendMessage(chatID, "You don't have any messages yet.")
		return
	}

	conv, err := b.conversations.Get(ctx, id)
	if err != nil {
		b.logger.Error("Failed to get conversation",
			zap.Error(err),
			zap.String("conversation_id", id))
		b.sendErrorMessage(chatID, "Sorry, I couldn't retrieve your message history.")
		return
	}

	response := "*Your recent messages:*\n\n"
	for _, msg := range conv.RecentMessages(historyLength) {
		speaker := "You"
		if msg.Role == models.RoleAssistant {
			speaker = "Bot"
		}
		response += fmt.Sprintf("*%s:* _%s_\n", speaker, escapeMarkdown(msg.Content))
		if msg.Metadata != nil && len(msg.Metadata.FiltersApplied) > 0 {
			response += fmt.Sprintf("Changed: %s\n", escapeMarkdown(strings.Join(msg.Metadata.FiltersApplied, ", ")))
		}
	}
	b.sendMarkdown(chatID, 0, response)
}

func (b *Bot) sendSearchResults(chatID int64, state search.State) {
	if msg := state.Error(); msg != "" {
		b.sendErrorMessage(chatID, "Search failed: "+msg)
		return
	}
	b.sendMarkdown(chatID, 0, formatResults(state))
}

func (b *Bot) sendMarkdown(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyToID

	if _, err := b.out.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.out.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.out.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func turnErrorText(err error) string {
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return "Your filters changed while I was thinking. Please send that again."
	case errors.Is(err, conversation.ErrEmptyMessage):
		return "Please describe who you want to reach."
	default:
		return "Sorry, I couldn't update your filters. Please try again."
	}
}

func userID(message *tgbotapi.Message) string {
	if message.From != nil {
		return strconv.FormatInt(message.From.ID, 10)
	}
	return strconv.FormatInt(message.Chat.ID, 10)
}
