package alerts

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

const (
	colorOnline  = 0x00CC66
	colorOffline = 0xFF9900
	colorError   = 0xCC3333

	defaultStateSize = 1024
	queueSize        = 64
	maxDescription   = 1024
)

// DiscordSession abstracts the discordgo.Session methods used by the
// notifier.
type DiscordSession interface {
	Open() error
	Close() error
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type realDiscordSession struct {
	s *discordgo.Session
}

func (r *realDiscordSession) Open() error {
	return r.s.Open()
}

func (r *realDiscordSession) Close() error {
	return r.s.Close()
}

func (r *realDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendEmbed(channelID, embed, options...)
}

// DiscordNotifier posts collector errors and node online/offline
// transitions to a Discord channel.
type DiscordNotifier struct {
	session   DiscordSession
	channelID string
	logger    *zap.Logger

	// last observed reachability per node id
	state *lru.Cache[string, bool]

	mu      sync.Mutex
	names   map[string]string
	queue   chan *discordgo.MessageEmbed
	running bool
	done    chan struct{}
}

// NewDiscordNotifier creates a notifier backed by a real discordgo session.
func NewDiscordNotifier(token, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord channel id is required")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return NewDiscordNotifierWithSession(&realDiscordSession{s: dg}, channelID, logger), nil
}

// NewDiscordNotifierWithSession creates a notifier with an injected session.
func NewDiscordNotifierWithSession(session DiscordSession, channelID string, logger *zap.Logger) *DiscordNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	state, _ := lru.New[string, bool](defaultStateSize)
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
		state:     state,
		names:     make(map[string]string),
	}
}

// Start opens the session and begins delivering queued alerts.
func (n *DiscordNotifier) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("discord notifier is already running")
	}

	if err := n.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	n.queue = make(chan *discordgo.MessageEmbed, queueSize)
	n.done = make(chan struct{})
	n.running = true
	go n.deliver(n.queue, n.done)
	return nil
}

// Stop drains pending alerts and closes the session.
func (n *DiscordNotifier) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	close(n.queue)
	done := n.done
	n.mu.Unlock()

	<-done

	if err := n.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (n *DiscordNotifier) deliver(queue <-chan *discordgo.MessageEmbed, done chan<- struct{}) {
	defer close(done)
	for embed := range queue {
		if _, err := n.session.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
			n.logger.Warn("failed to send discord alert",
				zap.String("title", embed.Title),
				zap.Error(err),
			)
		}
	}
}

func (n *DiscordNotifier) enqueue(embed *discordgo.MessageEmbed) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return
	}
	select {
	case n.queue <- embed:
	default:
		n.logger.Warn("discord alert queue full, dropping alert", zap.String("title", embed.Title))
	}
}

func (n *DiscordNotifier) OnInfo(string) {}

func (n *DiscordNotifier) OnError(err error) {
	if err == nil {
		return
	}
	n.enqueue(errorEmbed("Node monitor error", sanitizeError(err)))
}

// OnUpdate refreshes the display names used in transition alerts and
// forgets nodes that left the directory.
func (n *DiscordNotifier) OnUpdate(nodes []shared.Node) {
	names := make(map[string]string, len(nodes))
	for _, node := range nodes {
		names[node.ID] = node.Name
	}

	n.mu.Lock()
	n.names = names
	n.mu.Unlock()

	for _, id := range n.state.Keys() {
		if _, ok := names[id]; !ok {
			n.state.Remove(id)
		}
	}
}

// OnPolling alerts on nodes whose reachability changed since the previous
// batch. The first observation of a node never alerts.
func (n *DiscordNotifier) OnPolling(events []shared.PollingEvent) {
	for _, ev := range events {
		online := !ev.Offline()
		prev, seen := n.state.Get(ev.NodeID)
		n.state.Add(ev.NodeID, online)
		if !seen || prev == online {
			continue
		}
		n.enqueue(transitionEmbed(n.displayName(ev.NodeID), ev))
	}
}

func (n *DiscordNotifier) displayName(id string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name := n.names[id]; name != "" {
		return name
	}
	return id
}

func transitionEmbed(name string, ev shared.PollingEvent) *discordgo.MessageEmbed {
	if ev.Offline() {
		return &discordgo.MessageEmbed{
			Title:       "Node offline",
			Description: fmt.Sprintf("**%s** stopped responding.", name),
			Color:       colorOffline,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Node ID", Value: shortID(ev.NodeID), Inline: true},
			},
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		}
	}

	synced := "no"
	if ev.Synced {
		synced = "yes"
	}
	return &discordgo.MessageEmbed{
		Title:       "Node online",
		Description: fmt.Sprintf("**%s** is reachable again.", name),
		Color:       colorOnline,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Node ID", Value: shortID(ev.NodeID), Inline: true},
			{Name: "Height", Value: fmt.Sprintf("%d", ev.Height), Inline: true},
			{Name: "Version", Value: valueOrDash(ev.Version), Inline: true},
			{Name: "Synced", Value: synced, Inline: true},
		},
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       colorError,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// sanitizeError truncates to the embed limit and hides messages that may
// carry connection credentials.
func sanitizeError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "@") {
		msg = "An internal error occurred. See the collector logs for details."
	}
	if len(msg) > maxDescription {
		cut := maxDescription - 3
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func valueOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
