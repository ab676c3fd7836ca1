// Package console is a line-oriented front end for the chat engine: it turns
// typed commands into engine calls and prints notices, status changes and
// new messages as they arrive on the bus.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ridelink/chatsync/internal/auth"
	"github.com/ridelink/chatsync/internal/bus"
	"github.com/ridelink/chatsync/internal/chat"
	"github.com/ridelink/chatsync/internal/status"
	"go.uber.org/zap"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit")

// Engine is the part of the sync engine the console drives.
type Engine interface {
	SelectConversation(ctx context.Context, id string) error
	SendMessage(ctx context.Context, conversationID, content string) (string, error)
	CreateConversation(ctx context.Context, participantIDs []string, title string) error
	MarkMessagesAsRead(ctx context.Context, id string) error
	Status() status.State
	Conversations() []chat.Conversation
	Selected() string
	Messages() []chat.Message
	Sending() bool
	Identity() string
}

const helpText = `commands:
  :list                      show conversations
  :open <n|id>               select a conversation
  :close                     clear the selection
  :show                      print the selected conversation
  :new <user,user> [title]   start a conversation
  :read                      mark the selected conversation as read
  :status                    connection status
  :login <user> <token>      bind a new identity
  :logout                    sign out
  :quit
anything else is sent to the selected conversation`

// Console reads commands from in and writes to out.
type Console struct {
	engine Engine
	auth   *auth.Source
	bus    *bus.Bus
	logger *zap.Logger
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	// confirmed message ids already printed for the selected conversation
	seenMu   sync.Mutex
	seenConv string
	seen     map[string]struct{}
}

// New creates a console.
func New(engine Engine, src *auth.Source, b *bus.Bus, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{
		engine: engine,
		auth:   src,
		bus:    b,
		logger: logger,
		in:     in,
		out:    out,
		seen:   make(map[string]struct{}),
	}
}

// Run prints bus activity and executes input lines until ctx is done, the
// input ends or the user quits.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsub := c.bus.SubscribeMany(256, bus.NamespaceNotice, bus.NamespaceConnection, bus.NamespaceChat)
	defer unsub()
	go c.watch(ctx, events)

	c.printf("chatsync: type :help for commands\n")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Warn("console input failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Execute runs a single input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	cmd := ParseCommand(line)
	switch cmd.Name {
	case "":
		return nil
	case "help", "h":
		c.printf("%s\n", helpText)
	case "quit", "q", "exit":
		return ErrQuit
	case "status":
		c.printf("%s as %s\n", c.engine.Status(), orNone(c.engine.Identity()))
	case "list", "ls":
		c.printConversations()
	case "open", "o":
		id, err := c.resolve(cmd.Args)
		if err != nil {
			return err
		}
		c.resetSeen(id)
		return c.engine.SelectConversation(ctx, id)
	case "close":
		c.resetSeen("")
		return c.engine.SelectConversation(ctx, "")
	case "show":
		c.printMessages()
	case "send":
		if _, err := c.engine.SendMessage(ctx, "", cmd.Args); err != nil {
			return err
		}
	case "new":
		ids, title := parseNew(cmd.Args)
		return c.engine.CreateConversation(ctx, ids, title)
	case "read":
		id := c.engine.Selected()
		if id == "" {
			return errors.New("no conversation selected")
		}
		return c.engine.MarkMessagesAsRead(ctx, id)
	case "login":
		fields := strings.Fields(cmd.Args)
		if len(fields) != 2 {
			return errors.New("usage: :login <user> <token>")
		}
		c.auth.Set(auth.Credentials{Authenticated: true, UserID: fields[0], Token: fields[1]})
	case "logout":
		c.auth.SignOut()
	default:
		return fmt.Errorf("unknown command %q (try :help)", cmd.Name)
	}
	return nil
}

// resolve accepts a 1-based position in the current list or an id.
func (c *Console) resolve(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: :open <n|id>")
	}
	if n, err := strconv.Atoi(arg); err == nil {
		convs := c.engine.Conversations()
		if n < 1 || n > len(convs) {
			return "", fmt.Errorf("no conversation #%d", n)
		}
		return convs[n-1].ID, nil
	}
	return arg, nil
}

// parseNew splits "a,b title words" into participant ids and a title.
func parseNew(args string) ([]string, string) {
	head, title, _ := strings.Cut(args, " ")
	return strings.Split(head, ","), strings.TrimSpace(title)
}

func (c *Console) watch(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			c.render(evt)
		}
	}
}

func (c *Console) render(evt bus.Event) {
	switch {
	case strings.HasPrefix(evt.Kind, bus.NamespaceNotice):
		if n, ok := evt.Payload.(bus.Notice); ok {
			c.printf("! %s\n", n.Text)
		}
	case evt.Kind == bus.KindStatusChanged:
		if ch, ok := evt.Payload.(status.StatusChange); ok {
			c.printf("* %s\n", ch.To)
		}
	case evt.Kind == bus.KindMessagesChanged:
		c.printNew()
	}
}

// printNew prints confirmed messages of the selected conversation that have
// not been printed yet.
func (c *Console) printNew() {
	selected := c.engine.Selected()
	msgs := c.engine.Messages()

	c.seenMu.Lock()
	if selected != c.seenConv {
		c.seenConv = selected
		c.seen = make(map[string]struct{})
	}
	var fresh []chat.Message
	for _, m := range msgs {
		if m.Pending() || m.ConversationID != selected {
			continue
		}
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		c.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	c.seenMu.Unlock()

	for _, m := range fresh {
		c.printf("%s\n", formatMessage(m, c.engine.Identity()))
	}
}

func (c *Console) resetSeen(conversationID string) {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	c.seenConv = conversationID
	c.seen = make(map[string]struct{})
}

func (c *Console) printConversations() {
	convs := c.engine.Conversations()
	if len(convs) == 0 {
		c.printf("no conversations\n")
		return
	}
	selected := c.engine.Selected()
	for i, conv := range convs {
		mark := " "
		if conv.ID == selected {
			mark = ">"
		}
		c.printf("%s %d. %s\n", mark, i+1, formatConversation(conv, c.engine.Identity()))
	}
}

func (c *Console) printMessages() {
	if c.engine.Selected() == "" {
		c.printf("no conversation selected\n")
		return
	}
	self := c.engine.Identity()
	for _, m := range c.engine.Messages() {
		c.printf("%s\n", formatMessage(m, self))
	}
	if c.engine.Sending() {
		c.printf("(sending...)\n")
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func formatConversation(conv chat.Conversation, self string) string {
	name := conv.Title
	if name == "" {
		var others []string
		for _, id := range conv.ParticipantIDs {
			if id != self {
				others = append(others, id)
			}
		}
		name = strings.Join(others, ", ")
	}
	var b strings.Builder
	b.WriteString(name)
	if conv.UnreadCount > 0 {
		fmt.Fprintf(&b, " [%d]", conv.UnreadCount)
	}
	if conv.LastMessageText != "" {
		fmt.Fprintf(&b, ": %s", conv.LastMessageText)
	}
	fmt.Fprintf(&b, " (%s)", conv.ID)
	return b.String()
}

func formatMessage(m chat.Message, self string) string {
	sender := m.SenderID
	if sender == self {
		sender = "you"
	}
	state := string(m.Status)
	if m.Pending() {
		state = "sending"
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", m.CreatedAt.Local().Format("15:04"), sender, m.Content, state)
}

func orNone(s string) string {
	if s == "" {
		return "(nobody)"
	}
	return s
}
