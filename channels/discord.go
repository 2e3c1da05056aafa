package channels

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/smallnest/clawgate/config"
)

// maxDiscordMessageLength is the platform's per-message limit in
// characters. Splitting on byte counts stays under it since a rune is
// at least one byte.
const maxDiscordMessageLength = 2000

// DiscordNotifier delivers messages through a Discord bot session.
type DiscordNotifier struct {
	session *discordgo.Session
}

// NewDiscordNotifier creates the bot session. The session is used for
// REST sends only; no gateway intents are opened.
func NewDiscordNotifier(cfg config.DiscordConfig) (*DiscordNotifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return &DiscordNotifier{session: session}, nil
}

func (n *DiscordNotifier) Name() string { return "discord" }

// Send delivers text to a channel id, splitting messages that exceed the
// platform limit.
func (n *DiscordNotifier) Send(ctx context.Context, target, text string) error {
	if target == "" {
		return fmt.Errorf("discord channel id is required")
	}

	for _, chunk := range splitMessage(text, maxDiscordMessageLength) {
		if _, err := n.session.ChannelMessageSend(target, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		// Never cut inside a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
