// Package discord is the chat front end: it announces new posts with rating
// buttons, applies button clicks through the rating debouncer and posts
// scrape summaries to a status channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/relocate"
)

// Session is the subset of *discordgo.Session the bot uses.
type Session interface {
	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error
}

// RatingQueue accepts rating requests for debounced application.
type RatingQueue interface {
	Submit(req relocate.Request) error
}

// Config identifies the channels and the role the bot works with.
type Config struct {
	GuildID         string
	FeedChannelID   string
	StatusChannelID string
	// AllowedRoleID gates the rating buttons; empty lets every member rate.
	AllowedRoleID string
	PostURLFormat string
	Vocabulary    archive.Vocabulary
	// MaxUploadBytes skips larger files when attaching media; zero means 25 MiB.
	MaxUploadBytes int64
}

// Bot implements events.Sink for notifications and handles button clicks.
type Bot struct {
	cfg     Config
	session Session
	ratings RatingQueue
	logger  *zap.Logger
	owned   *discordgo.Session

	mu sync.Mutex
	// clicked holds feed messages whose rating is waiting to be applied.
	clicked map[string]*discordgo.Message
}

// New builds a Bot around an existing session.
func New(cfg Config, session Session, ratings RatingQueue, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PostURLFormat == "" {
		cfg.PostURLFormat = "https://x.com/i/status/%s"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 25 << 20
	}
	return &Bot{
		cfg:     cfg,
		session: session,
		ratings: ratings,
		logger:  logger,
		clicked: make(map[string]*discordgo.Message),
	}
}

// Open connects to the gateway with token and starts handling interactions.
func Open(token string, cfg Config, ratings RatingQueue, logger *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("no bot token provided")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	b := New(cfg, dg, ratings, logger)
	b.owned = dg
	dg.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.HandleInteraction(i.Interaction)
	})
	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("open discord connection: %w", err)
	}
	if cfg.AllowedRoleID == "" {
		b.logger.Warn("no allowed role configured, every member can rate posts")
	}
	b.logger.Info("discord bot connected", zap.String("feed_channel", cfg.FeedChannelID))
	return b, nil
}

// Close disconnects a session opened by Open.
func (b *Bot) Close(context.Context) error {
	if b.owned == nil {
		return nil
	}
	if err := b.owned.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// HandleInteraction answers rating button clicks. Other interactions are ignored.
func (b *Bot) HandleInteraction(i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	button, err := ParseRateButtonID(i.MessageComponentData().CustomID)
	if errors.Is(err, errNotRateButton) {
		return
	}
	if err != nil {
		b.replyEphemeral(i, "That button is malformed.")
		return
	}
	if !b.allowed(i.Member) {
		b.replyEphemeral(i, "You are not allowed to rate posts.")
		return
	}
	// Record before Submit; the rating may settle before Submit returns.
	if i.Message != nil {
		b.mu.Lock()
		b.clicked[button.PostID] = i.Message
		b.mu.Unlock()
	}
	if err := b.ratings.Submit(button.Request()); err != nil {
		b.takeClicked(button.PostID)
		b.logger.Warn("rating click rejected", zap.String("post_id", button.PostID), zap.Error(err))
		b.replyEphemeral(i, "Rating rejected: "+err.Error())
		return
	}
	// Acknowledge right away; the message is edited once the rating is applied.
	err = b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		b.logger.Warn("acknowledge click failed", zap.Error(err))
	}
}

func (b *Bot) allowed(member *discordgo.Member) bool {
	if b.cfg.AllowedRoleID == "" {
		return member != nil
	}
	return member != nil && slices.Contains(member.Roles, b.cfg.AllowedRoleID)
}

func (b *Bot) replyEphemeral(i *discordgo.Interaction, msg string) {
	err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Warn("interaction reply failed", zap.Error(err))
	}
}

// Settled forgets the clicked message of a post rating that will not produce a
// RatingApplied event, because it failed or changed nothing.
func (b *Bot) Settled(req relocate.Request, report relocate.Report, err error) {
	if req.Kind != relocate.TargetPost {
		return
	}
	if err == nil && !report.Unchanged {
		return
	}
	if b.takeClicked(req.PostID) == nil {
		return
	}
	if err != nil {
		b.logger.Warn("clicked rating failed", zap.String("post_id", req.PostID), zap.Error(err))
	}
}

func (b *Bot) takeClicked(postID string) *discordgo.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := b.clicked[postID]
	delete(b.clicked, postID)
	return msg
}
