// Package telegram is the chat transport: it turns Telegram updates into
// inbound events and sends replies back as text, voice and photos.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/deskmate/internal/compose"
	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/types"
)

const (
	Source = "telegram"

	maxTelegramMessage = 4096
	maxDownload        = 20 << 20

	msgWelcome  = "Hi! I'm your desk assistant. I can manage your calendar and email, make images and set reminders. Try /help."
	msgError    = "Sorry, I encountered an error processing your message."
	msgReset    = "Done. I've forgotten our conversation."
	msgUnknown  = "Unknown command. Available: /start, /help, /reset, /status"
	msgFileType = "Sorry, I can only work with audio and image files."
)

// Audio formats the transcription endpoint accepts, by file extension.
var audioFormats = map[string]bool{
	"flac": true, "m4a": true, "mp3": true, "mp4": true, "mpeg": true,
	"mpga": true, "oga": true, "ogg": true, "wav": true, "webm": true,
}

// Bot is the subset of the Telegram API the adapter uses.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Inbound accepts events for processing; *gateway.Gateway implements it.
type Inbound interface {
	HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...gateway.RunOption) error
}

// Resetter forgets a user's journal.
type Resetter interface {
	Reset(ctx context.Context, userID types.UserID) error
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot        Bot
	inbound    Inbound
	sessions   *session.Store
	events     types.EventStore
	artifacts  types.ArtifactStore
	httpClient *http.Client
}

// New creates a Telegram adapter from a bot token.
func New(token string, inbound Inbound, sessions *session.Store, events types.EventStore, artifacts types.ArtifactStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return NewWithBot(bot, inbound, sessions, events, artifacts), nil
}

func NewWithBot(bot Bot, inbound Inbound, sessions *session.Store, events types.EventStore, artifacts types.ArtifactStore) *Adapter {
	return &Adapter{
		bot:        bot,
		inbound:    inbound,
		sessions:   sessions,
		events:     events,
		artifacts:  artifacts,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// UserID is the user id for a Telegram chat.
func UserID(chatID int64) types.UserID {
	return types.NewUserID(Source, strconv.FormatInt(chatID, 10))
}

// ChatID recovers the chat from a user id built by UserID.
func ChatID(userID types.UserID) (int64, error) {
	rest, ok := strings.CutPrefix(string(userID), Source+":")
	if !ok {
		return 0, fmt.Errorf("not a telegram user: %s", userID)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id %q: %w", rest, err)
	}
	return id, nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	event := &types.InboundEvent{
		Source:    Source,
		UserID:    UserID(chatID),
		Text:      msg.Text,
		Timestamp: msg.Time(),
	}
	if event.Text == "" {
		event.Text = msg.Caption
	}

	if msg.Voice != nil {
		data, err := a.download(ctx, msg.Voice.FileID)
		if err != nil {
			slog.Error("download voice message", "chat_id", chatID, "error", err)
			a.sendText(chatID, msgError)
			return
		}
		event.Audio = &types.Audio{Data: data, Format: "ogg"}
		event.RequestsAudioReply = true
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		data, err := a.download(ctx, largest.FileID)
		if err != nil {
			slog.Error("download photo", "chat_id", chatID, "error", err)
			a.sendText(chatID, msgError)
			return
		}
		event.Image = &types.Attachment{Data: data, MimeType: http.DetectContentType(data)}
	}

	if doc := msg.Document; doc != nil {
		if !a.attachDocument(ctx, chatID, doc, event) {
			return
		}
	}

	if event.Text == "" && event.Audio == nil && event.Image == nil {
		return
	}

	a.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	err := a.inbound.HandleInbound(ctx, event, gateway.WithOnComplete(func(reply types.Reply) {
		a.sendReply(context.Background(), chatID, reply)
	}))
	if err != nil {
		slog.Error("handle inbound", "chat_id", chatID, "error", err)
		a.sendText(chatID, msgError)
	}
}

// attachDocument routes a file sent as a document into the event by its
// MIME type. It reports false when the message has been answered already.
func (a *Adapter) attachDocument(ctx context.Context, chatID int64, doc *tgbotapi.Document, event *types.InboundEvent) bool {
	mimeType := strings.ToLower(doc.MimeType)
	format := documentFormat(doc.FileName, mimeType)
	isAudio := strings.HasPrefix(mimeType, "audio/") && audioFormats[format]
	isImage := strings.HasPrefix(mimeType, "image/")
	if !isAudio && !isImage {
		slog.Info("unsupported document", "chat_id", chatID, "mime_type", doc.MimeType, "file_name", doc.FileName)
		a.sendText(chatID, msgFileType)
		return false
	}

	data, err := a.download(ctx, doc.FileID)
	if err != nil {
		slog.Error("download document", "chat_id", chatID, "file_name", doc.FileName, "error", err)
		a.sendText(chatID, msgError)
		return false
	}
	if isAudio {
		event.Audio = &types.Audio{Data: data, Format: format}
	} else {
		event.Image = &types.Attachment{Data: data, MimeType: mimeType}
	}
	return true
}

// documentFormat picks the file format from the name's extension, falling
// back to the MIME subtype ("audio/mpeg" gives "mpeg").
func documentFormat(name, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."); ext != "" {
		return ext
	}
	_, sub, _ := strings.Cut(mimeType, "/")
	return sub
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	userID := UserID(chatID)

	switch msg.Command() {
	case "start":
		a.sendText(chatID, msgWelcome)

	case "help":
		a.sendText(chatID, compose.HelpText)

	case "reset":
		if err := a.sessions.Reset(ctx, userID); err != nil {
			slog.Error("reset session", "user_id", userID, "error", err)
			a.sendText(chatID, msgError)
			return
		}
		if r, ok := a.events.(Resetter); ok {
			if err := r.Reset(ctx, userID); err != nil {
				slog.Warn("reset journal", "user_id", userID, "error", err)
			}
		}
		a.sendText(chatID, msgReset)

	case "status":
		a.sendText(chatID, a.status(ctx, userID))

	default:
		a.sendText(chatID, msgUnknown)
	}
}

func (a *Adapter) status(ctx context.Context, userID types.UserID) string {
	var b strings.Builder
	sess, err := a.sessions.Get(ctx, userID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		b.WriteString("No conversation yet.")
	case err != nil:
		slog.Warn("load session for status", "user_id", userID, "error", err)
		return msgError
	default:
		fmt.Fprintf(&b, "Turns: %d", len(sess.Turns))
		if sess.Pending != nil {
			fmt.Fprintf(&b, "\nWaiting on: %s (%s)", sess.Pending.Intent.Kind, sess.Pending.Slot)
		} else {
			b.WriteString("\nNothing pending.")
		}
		fmt.Fprintf(&b, "\nTime zone: %s", sess.Location())
	}
	if a.events != nil {
		if n, err := a.events.Count(ctx, userID); err == nil {
			fmt.Fprintf(&b, "\nJournal entries: %d", n)
		}
	}
	return b.String()
}

// SendTo delivers a reply outside of a turn. It is registered with the
// delivery registry for "telegram:" users.
func (a *Adapter) SendTo(ctx context.Context, userID types.UserID, reply types.Reply) error {
	chatID, err := ChatID(userID)
	if err != nil {
		return err
	}
	return a.sendReply(ctx, chatID, reply)
}

func (a *Adapter) sendReply(ctx context.Context, chatID int64, reply types.Reply) error {
	var errs []error
	if reply.Text != "" {
		if err := a.sendText(chatID, reply.Text); err != nil {
			errs = append(errs, err)
		}
	}
	if reply.Audio != nil && len(reply.Audio.Data) > 0 {
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply." + reply.Audio.Format, Bytes: reply.Audio.Data})
		if _, err := a.bot.Send(voice); err != nil {
			slog.Warn("send voice reply", "chat_id", chatID, "error", err)
			errs = append(errs, err)
		}
	}
	for _, img := range reply.Images {
		data, err := a.imageBytes(ctx, img)
		if err != nil {
			slog.Warn("load reply image", "chat_id", chatID, "artifact_id", img.ArtifactID, "error", err)
			errs = append(errs, err)
			continue
		}
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "image.png", Bytes: data})
		if _, err := a.bot.Send(photo); err != nil {
			slog.Warn("send photo", "chat_id", chatID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Adapter) imageBytes(ctx context.Context, img types.ReplyImage) ([]byte, error) {
	if len(img.Data) > 0 {
		return img.Data, nil
	}
	if img.ArtifactID == "" || a.artifacts == nil {
		return nil, fmt.Errorf("image has no data")
	}
	data, _, err := a.artifacts.Get(ctx, img.ArtifactID)
	return data, err
}

func (a *Adapter) sendText(chatID int64, text string) error {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.bot.Send(msg); err != nil {
				slog.Error("send message", "chat_id", chatID, "error", err)
				return err
			}
		}
	}
	return nil
}

func (a *Adapter) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := a.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}

// splitMessage cuts text into Telegram-sized parts without splitting a
// UTF-8 sequence.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			parts = append(parts, text)
			break
		}
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
