package alerts

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/turtlecoin/turtlecoin-node-monitor/internal/shared"
)

type mockDiscordSession struct {
	mu sync.Mutex

	openCalled  bool
	closeCalled bool
	sendErr     error
	sent        []sentEmbed
}

type sentEmbed struct {
	ChannelID string
	Embed     *discordgo.MessageEmbed
}

func (m *mockDiscordSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalled = true
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockDiscordSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmbed{ChannelID: channelID, Embed: embed})
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (m *mockDiscordSession) embeds() []sentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentEmbed, len(m.sent))
	copy(out, m.sent)
	return out
}

func startNotifier(t *testing.T) (*DiscordNotifier, *mockDiscordSession) {
	t.Helper()
	session := &mockDiscordSession{}
	n := NewDiscordNotifierWithSession(session, "chan-1", zap.NewNop())
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return n, session
}

func onlineEvent(id string, ts time.Time) shared.PollingEvent {
	return shared.PollingEvent{NodeID: id, Timestamp: ts, Synced: true, Version: "1.1.0", Height: 42}
}

func TestNotifierAlertsOnTransitions(t *testing.T) {
	n, session := startNotifier(t)

	ts := time.UnixMilli(1_700_000_000_000)
	n.OnUpdate([]shared.Node{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Bravo"}})

	// first sighting never alerts
	n.OnPolling([]shared.PollingEvent{onlineEvent("a", ts), shared.OfflineEvent("b", ts)})
	// a goes offline, b stays offline
	n.OnPolling([]shared.PollingEvent{shared.OfflineEvent("a", ts.Add(time.Minute)), shared.OfflineEvent("b", ts.Add(time.Minute))})
	// a comes back
	n.OnPolling([]shared.PollingEvent{onlineEvent("a", ts.Add(2*time.Minute))})

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sent := session.embeds()
	if len(sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(sent))
	}
	if sent[0].Embed.Title != "Node offline" || !strings.Contains(sent[0].Embed.Description, "Alpha") {
		t.Errorf("unexpected first alert %+v", sent[0].Embed)
	}
	if sent[0].Embed.Color != colorOffline {
		t.Errorf("offline alert color = %#x", sent[0].Embed.Color)
	}
	if sent[1].Embed.Title != "Node online" || sent[1].Embed.Color != colorOnline {
		t.Errorf("unexpected second alert %+v", sent[1].Embed)
	}
	if sent[1].ChannelID != "chan-1" {
		t.Errorf("sent to channel %q", sent[1].ChannelID)
	}
	if !session.openCalled || !session.closeCalled {
		t.Error("expected session to be opened and closed")
	}
}

func TestNotifierForgetsRemovedNodes(t *testing.T) {
	n, session := startNotifier(t)

	ts := time.UnixMilli(1_700_000_000_000)
	n.OnUpdate([]shared.Node{{ID: "a", Name: "Alpha"}})
	n.OnPolling([]shared.PollingEvent{onlineEvent("a", ts)})

	n.OnUpdate(nil)
	n.OnUpdate([]shared.Node{{ID: "a", Name: "Alpha"}})
	n.OnPolling([]shared.PollingEvent{shared.OfflineEvent("a", ts.Add(time.Minute))})

	n.Stop()
	if sent := session.embeds(); len(sent) != 0 {
		t.Errorf("expected no alert after node re-listed, got %d", len(sent))
	}
}

func TestNotifierErrorAlert(t *testing.T) {
	n, session := startNotifier(t)

	n.OnError(errors.New("could not update the public node list: status 502"))
	n.OnError(errors.New("dial tcp: monitor:secret@db.internal refused"))
	n.OnError(nil)
	n.Stop()

	sent := session.embeds()
	if len(sent) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(sent))
	}
	if sent[0].Embed.Color != colorError || !strings.Contains(sent[0].Embed.Description, "status 502") {
		t.Errorf("unexpected error alert %+v", sent[0].Embed)
	}
	if strings.Contains(sent[1].Embed.Description, "secret") {
		t.Errorf("credentials leaked into alert: %q", sent[1].Embed.Description)
	}
}

func TestNotifierSendFailureIsLogged(t *testing.T) {
	n, session := startNotifier(t)
	session.sendErr = errors.New("rate limited")

	n.OnError(errors.New("boom"))
	n.OnError(errors.New("boom again"))
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(session.embeds()) != 2 {
		t.Error("expected both alerts to be attempted")
	}
}

func TestNotifierIgnoresEventsWhenStopped(t *testing.T) {
	session := &mockDiscordSession{}
	n := NewDiscordNotifierWithSession(session, "chan-1", nil)

	n.OnError(errors.New("before start"))
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if len(session.embeds()) != 0 {
		t.Error("expected no alerts before start")
	}
}

func TestNotifierDoubleStart(t *testing.T) {
	n, _ := startNotifier(t)
	defer n.Stop()
	if err := n.Start(); err == nil {
		t.Error("expected error on second Start")
	}
}

func TestNewDiscordNotifierValidation(t *testing.T) {
	if _, err := NewDiscordNotifier("", "chan", nil); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := NewDiscordNotifier("token", "", nil); err == nil {
		t.Error("expected error for empty channel")
	}
}

func TestSanitizeErrorTruncates(t *testing.T) {
	msg := sanitizeError(errors.New(strings.Repeat("x", 5000)))
	if len(msg) != maxDescription || !strings.HasSuffix(msg, "...") {
		t.Errorf("unexpected length %d", len(msg))
	}
}

func TestSanitizeErrorKeepsRunesWhole(t *testing.T) {
	// 3-byte runes put the byte limit in the middle of a rune
	msg := sanitizeError(errors.New(strings.Repeat("€", 2000)))
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated message is not valid UTF-8: %q", msg[len(msg)-8:])
	}
	if len(msg) > maxDescription || !strings.HasSuffix(msg, "...") {
		t.Errorf("unexpected truncation: len %d", len(msg))
	}
	if body := strings.TrimSuffix(msg, "..."); strings.Trim(body, "€") != "" {
		t.Errorf("unexpected content after truncation")
	}
}
