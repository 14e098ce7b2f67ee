package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/JakeFAU/feed-archiver/internal/archive"
	"github.com/JakeFAU/feed-archiver/internal/events"
)

const (
	contentField = "Content Rating"
	safetyField  = "Safety Rating"
)

// ratingLine is the ">content|safety" marker carried by text-only feed messages.
var ratingLine = regexp.MustCompile(`(?m)^>[^|\n]*\|.*$`)

// jumpURL matches https://discord.com/channels/{guild}/{channel}/{message}.
var jumpURL = regexp.MustCompile(`/channels/[^/\s]+/([0-9]+)/([0-9]+)`)

// Consume implements events.Sink.
func (b *Bot) Consume(_ context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		var err error
		switch evt.Kind {
		case events.KindPostIngested:
			err = b.notifyPost(*evt.Account, *evt.Post)
		case events.KindItemFailed:
			err = b.notifyFailure(evt)
		case events.KindCycleFinished:
			err = b.notifyCycle(*evt.Cycle)
		case events.KindRatingApplied:
			err = b.showRating(*evt.Rating)
		}
		if err != nil {
			b.logger.Warn("discord notification failed", zap.String("kind", string(evt.Kind)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// notifyPost uploads the files to the account thread, then announces the
// post in the feed channel with rating buttons, reusing the thread's
// attachment URLs so the files are only uploaded once.
func (b *Bot) notifyPost(account archive.Account, post archive.Post) error {
	postURL := fmt.Sprintf(b.cfg.PostURLFormat, post.ID)

	var threadMsg *discordgo.Message
	if account.NotifyThreadID != "" {
		files, closeFiles := b.uploads(post.Media)
		msg, err := b.session.ChannelMessageSendComplex(account.NotifyThreadID, &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{postEmbed(account.Handle, postURL, post)},
			Files:  files,
		})
		closeFiles()
		if err != nil {
			return fmt.Errorf("notify thread %s: %w", account.NotifyThreadID, err)
		}
		threadMsg = msg
	}
	if b.cfg.FeedChannelID == "" {
		return nil
	}

	shared := postURL
	if threadMsg != nil {
		shared = b.jumpURL(threadMsg)
	}
	send := &discordgo.MessageSend{Components: b.ratingRows(post.ID)}
	switch {
	case hasVideo(post.Media):
		// Video attachments do not render inside embeds.
		send.Content = fmt.Sprintf("%s %s\n>%s|%s", shared, postURL, post.Rating.Content, post.Rating.Safety)
	case threadMsg == nil || len(threadMsg.Attachments) == 0:
		embed := postEmbed(account.Handle, shared, post)
		embed.URL = shared
		send.Embeds = []*discordgo.MessageEmbed{embed}
	default:
		for i, att := range threadMsg.Attachments {
			// Embeds sharing a URL are shown as one gallery.
			embed := &discordgo.MessageEmbed{URL: shared, Image: &discordgo.MessageEmbedImage{URL: att.URL}}
			if i == 0 {
				embed = postEmbed(account.Handle, shared, post)
				embed.URL = shared
				embed.Image = &discordgo.MessageEmbedImage{URL: att.URL}
			}
			send.Embeds = append(send.Embeds, embed)
		}
	}
	if _, err := b.session.ChannelMessageSendComplex(b.cfg.FeedChannelID, send); err != nil {
		return fmt.Errorf("notify feed channel: %w", err)
	}
	return nil
}

func (b *Bot) notifyFailure(evt events.Event) error {
	handle := "unknown"
	if evt.Account != nil {
		handle = "@" + evt.Account.Handle
	}
	msg := fmt.Sprintf("Skipped item %s from %s: %s. Fetch it again with `fetch-post %s`.",
		evt.ItemID, handle, evt.Note, evt.ItemID)
	return b.status(msg)
}

func (b *Bot) notifyCycle(summary events.CycleSummary) error {
	ingested, failed := summary.Totals()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scrape finished in %s: %d new posts from %d accounts",
		summary.Finished.Sub(summary.Started).Round(time.Second), ingested, len(summary.Accounts))
	if failed > 0 {
		fmt.Fprintf(&sb, ", %d failed", failed)
	}
	for _, a := range summary.Accounts {
		if a.Err != "" {
			fmt.Fprintf(&sb, "\n- @%s: %s", a.Handle, a.Err)
		}
	}
	return b.status(sb.String())
}

func (b *Bot) status(msg string) error {
	if b.cfg.StatusChannelID == "" {
		return nil
	}
	_, err := b.session.ChannelMessageSendComplex(b.cfg.StatusChannelID, &discordgo.MessageSend{Content: msg})
	if err != nil {
		return fmt.Errorf("status message: %w", err)
	}
	return nil
}

// showRating rewrites the rating shown on a clicked feed message and on
// the thread message it links to.
func (b *Bot) showRating(change events.RatingChange) error {
	if change.PostID == "" {
		return nil
	}
	clicked := b.takeClicked(change.PostID)
	if clicked == nil {
		return nil
	}
	msg, err := b.session.ChannelMessage(clicked.ChannelID, clicked.ID)
	if err != nil {
		b.logger.Debug("refetch feed message failed, using the clicked copy", zap.Error(err))
		msg = clicked
	}

	var link string
	edit := discordgo.NewMessageEdit(msg.ChannelID, msg.ID)
	if len(msg.Embeds) > 0 && msg.Content == "" {
		embeds := append([]*discordgo.MessageEmbed(nil), msg.Embeds...)
		embeds[0] = withRating(embeds[0], change.To)
		edit.SetEmbeds(embeds)
		if msg.Embeds[0].Author != nil {
			link = msg.Embeds[0].Author.URL
		}
	} else {
		edit.SetContent(ratingLine.ReplaceAllString(msg.Content, ">"+change.To.Content+"|"+change.To.Safety))
		if fields := strings.Fields(msg.Content); len(fields) > 0 {
			link = fields[0]
		}
	}
	if _, err := b.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("edit feed message %s: %w", msg.ID, err)
	}

	m := jumpURL.FindStringSubmatch(link)
	if m == nil {
		return nil
	}
	threadMsg, err := b.session.ChannelMessage(m[1], m[2])
	if err != nil {
		return fmt.Errorf("load thread message %s: %w", m[2], err)
	}
	if len(threadMsg.Embeds) == 0 {
		return nil
	}
	threadEmbeds := append([]*discordgo.MessageEmbed(nil), threadMsg.Embeds...)
	threadEmbeds[0] = withRating(threadEmbeds[0], change.To)
	threadEdit := discordgo.NewMessageEdit(m[1], m[2]).SetEmbeds(threadEmbeds)
	if _, err := b.session.ChannelMessageEditComplex(threadEdit); err != nil {
		return fmt.Errorf("edit thread message %s: %w", m[2], err)
	}
	return nil
}

func (b *Bot) ratingRows(postID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		buttonRow(archive.AxisSafety, b.cfg.Vocabulary.Safety, postID),
		buttonRow(archive.AxisContent, b.cfg.Vocabulary.Content, postID),
	}
}

func buttonRow(axis archive.Axis, values []string, postID string) discordgo.ActionsRow {
	row := discordgo.ActionsRow{}
	for _, v := range values {
		if strings.EqualFold(v, archive.Waiting) || len(row.Components) == 5 {
			continue
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    v,
			Style:    discordgo.SecondaryButton,
			CustomID: RateButtonID(axis, v, postID),
		})
	}
	return row
}

func postEmbed(handle, authorURL string, post archive.Post) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Author:      &discordgo.MessageEmbedAuthor{Name: handle, URL: authorURL},
		Description: post.Text,
		Fields: []*discordgo.MessageEmbedField{
			{Name: contentField, Value: post.Rating.Content, Inline: true},
			{Name: safetyField, Value: post.Rating.Safety, Inline: true},
		},
	}
	if !post.PostedAt.IsZero() {
		embed.Timestamp = post.PostedAt.UTC().Format(time.RFC3339)
	}
	return embed
}

func withRating(old *discordgo.MessageEmbed, rating archive.Rating) *discordgo.MessageEmbed {
	cp := *old
	cp.Fields = make([]*discordgo.MessageEmbedField, 0, len(old.Fields))
	for _, f := range old.Fields {
		field := *f
		switch {
		case strings.EqualFold(f.Name, contentField):
			field.Value = rating.Content
		case strings.EqualFold(f.Name, safetyField):
			field.Value = rating.Safety
		}
		cp.Fields = append(cp.Fields, &field)
	}
	return &cp
}

func (b *Bot) jumpURL(msg *discordgo.Message) string {
	guild := msg.GuildID
	if guild == "" {
		guild = b.cfg.GuildID
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, msg.ChannelID, msg.ID)
}

// uploads opens every media file small enough to attach. The returned func
// closes them.
func (b *Bot) uploads(media []archive.Media) ([]*discordgo.File, func()) {
	var (
		files   []*discordgo.File
		closers []io.Closer
	)
	for _, m := range media {
		info, err := os.Stat(m.LocalPath)
		if err != nil || info.IsDir() || info.Size() > b.cfg.MaxUploadBytes {
			b.logger.Debug("media not attached", zap.String("path", m.LocalPath), zap.Error(err))
			continue
		}
		f, err := os.Open(m.LocalPath)
		if err != nil {
			b.logger.Warn("open media for upload failed", zap.String("path", m.LocalPath), zap.Error(err))
			continue
		}
		closers = append(closers, f)
		files = append(files, &discordgo.File{Name: filepath.Base(m.LocalPath), Reader: f})
	}
	return files, func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
}

func hasVideo(media []archive.Media) bool {
	for _, m := range media {
		switch strings.ToLower(m.Type) {
		case "mp4", "mov", "webm", "m4v":
			return true
		}
	}
	return false
}
