package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/relaylabs/relay/internal/bus"
	"github.com/relaylabs/relay/pkg/models"
)

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	// Token is the bot token from @BotFather.
	Token string

	// AllowedChatIDs restricts which chats the bot responds to.
	// Empty means all chats.
	AllowedChatIDs []string
}

// Telegram relays messages between Telegram (long polling) and the
// bus. Text and photos in, text out.
type Telegram struct {
	logger  *slog.Logger
	bus     *bus.Bus
	config  TelegramConfig
	allowed map[string]bool

	bot    *bot.Bot
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelegram creates the Telegram adapter.
func NewTelegram(b *bus.Bus, cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	allowed := make(map[string]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	return &Telegram{
		logger:  slog.Default().With("component", "channel", "channel", "telegram"),
		bus:     b,
		config:  cfg,
		allowed: allowed,
	}, nil
}

func (t *Telegram) Name() models.ChannelType { return models.ChannelTelegram }

// Start connects the bot and launches the polling and delivery
// loops.
func (t *Telegram) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	b, err := bot.New(t.config.Token, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	t.bot = b

	outbound := t.bus.SubscribeOutbound(models.ChannelTelegram)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		b.Start(ctx)
	}()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.deliverOutbound(ctx, outbound)
	}()

	t.logger.Info("telegram adapter started")
	return nil
}

// Stop cancels polling and waits for the loops.
func (t *Telegram) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.logger.Info("telegram adapter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if len(t.allowed) > 0 && !t.allowed[chatID] {
		t.logger.Debug("message from unlisted chat ignored", "chat_id", chatID)
		return
	}

	inbound := &models.InboundMessage{
		Channel:      models.ChannelTelegram,
		ChatID:       chatID,
		SenderID:     strconv.FormatInt(msg.From.ID, 10),
		Content:      msg.Text,
		ReceivedAtMs: time.Now().UnixMilli(),
	}
	if inbound.Content == "" && msg.Caption != "" {
		inbound.Content = msg.Caption
	}
	if att := t.photoAttachment(ctx, b, msg); att != nil {
		inbound.Attachments = append(inbound.Attachments, *att)
	}
	if inbound.Content == "" && len(inbound.Attachments) == 0 {
		return
	}

	t.bus.Publish(inbound)
}

// photoAttachment resolves the largest photo size of a message to a
// downloadable URL.
func (t *Telegram) photoAttachment(ctx context.Context, b *bot.Bot, msg *tgmodels.Message) *models.Attachment {
	if len(msg.Photo) == 0 {
		return nil
	}
	largest := msg.Photo[len(msg.Photo)-1]
	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: largest.FileID})
	if err != nil {
		t.logger.Warn("photo download link failed", "error", err)
		return nil
	}
	return &models.Attachment{
		Type:     "image",
		MimeType: "image/jpeg",
		URL:      b.FileDownloadLink(file),
	}
}

func (t *Telegram) deliverOutbound(ctx context.Context, outbound <-chan *models.OutboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound:
			if !ok {
				return
			}
			chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
			if err != nil {
				t.logger.Error("invalid telegram chat id", "chat_id", msg.ChatID)
				continue
			}
			if _, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
				ChatID: chatID,
				Text:   msg.Content,
			}); err != nil {
				t.logger.Error("send failed", "chat_id", msg.ChatID, "error", err)
			}
		}
	}
}
