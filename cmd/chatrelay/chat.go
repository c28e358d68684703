package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/a-h/chatrelay/client"
	"github.com/a-h/chatrelay/models"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type ChatCommand struct {
	ServerURL string `help:"The URL of the chat relay server." env:"CHAT_RELAY_URL" default:"http://localhost:8000"`
}

type messageType string

const (
	messageTypeHuman messageType = "human"
	messageTypeAI    messageType = "ai"
	messageTypeError messageType = "error"
)

type chatMessage struct {
	Type    messageType
	Content string
}

func (c ChatCommand) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	crc := client.New(c.ServerURL)

	toLLM := make(chan string)
	fromLLM := make(chan []chatMessage)
	go converse(ctx, crc, toLLM, fromLLM)

	p := tea.NewProgram(newModel(ctx, toLLM, fromLLM))
	if _, err = p.Run(); err != nil {
		return err
	}
	return nil
}

// converse sends each message from toLLM to the server and publishes the
// transcript to fromLLM as the response streams in. The server has no
// conversation state, so the transcript is only kept for display.
func converse(ctx context.Context, crc client.Client, toLLM <-chan string, fromLLM chan<- []chatMessage) {
	var transcript []chatMessage
	publish := func() bool {
		select {
		case fromLLM <- slices.Clone(transcript):
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		var toSend string
		select {
		case toSend = <-toLLM:
		case <-ctx.Done():
			return
		}
		transcript = append(transcript, chatMessage{Type: messageTypeHuman, Content: toSend})
		msgIndex := len(transcript)
		transcript = append(transcript, chatMessage{Type: messageTypeAI})
		if !publish() {
			return
		}

		var sb strings.Builder
		f := func(ctx context.Context, content string) error {
			sb.WriteString(content)
			transcript[msgIndex].Content = sb.String()
			if !publish() {
				return ctx.Err()
			}
			return nil
		}
		if err := crc.ChatPost(ctx, models.ChatPostRequest{Message: toSend}, f); err != nil {
			if ctx.Err() != nil {
				return
			}
			transcript = append(transcript, chatMessage{Type: messageTypeError, Content: err.Error()})
			if !publish() {
				return
			}
		}
	}
}

// Dracula color scheme.
var (
	Background  = lipgloss.Color("#282a36")
	CurrentLine = lipgloss.Color("#44475a")
	Selection   = lipgloss.Color("#44475a")
	Foreground  = lipgloss.Color("#f8f8f2")
	Comment     = lipgloss.Color("#6272a4")
	Cyan        = lipgloss.Color("#8be9fd")
	Green       = lipgloss.Color("#50fa7b")
	Orange      = lipgloss.Color("#ffb86c")
	Pink        = lipgloss.Color("#ff79c6")
	Purple      = lipgloss.Color("#bd93f9")
	Red         = lipgloss.Color("#ff5555")
	Yellow      = lipgloss.Color("#f1fa8c")
)

var headerStyle = lipgloss.NewStyle().Background(CurrentLine).Foreground(Purple).Bold(true).Margin(10).Padding(1).PaddingTop(0)

var header = `
 _______  __   __  _______  _______  _______  _______  _______ 
|       ||  | |  ||   _   ||       ||  _    ||       ||       |
|       ||  |_|  ||  |_|  ||_     _|| |_|   ||   _   ||_     _|
|       ||       ||       |  |   |  |       ||  | |  |  |   |  
|      _||       ||       |  |   |  |  _   | |  |_|  |  |   |  
|     |_ |   _   ||   _   |  |   |  | |_|   ||       |  |   |  
|_______||__| |__||__| |__|  |___|  |_______||_______|  |___|
`

type model struct {
	viewport viewport.Model
	textarea textarea.Model
	ctx      context.Context

	// Chatbot interactions.
	toLLM   chan<- string
	fromLLM <-chan []chatMessage
}

func newModel(ctx context.Context, toLLM chan<- string, fromLLM <-chan []chatMessage) model {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.Focus()

	ta.Prompt = "┃ "
	ta.CharLimit = 4000

	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()

	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent(headerStyle.Render(header))

	ta.KeyMap.InsertNewline.SetEnabled(false)

	return model{
		ctx:      ctx,
		textarea: ta,
		viewport: vp,
		fromLLM:  fromLLM,
		toLLM:    toLLM,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.subscribeToFromLLM(),
	)
}

func (m model) subscribeToFromLLM() tea.Cmd {
	return func() tea.Msg {
		select {
		case x := <-m.fromLLM:
			return x
		case <-m.ctx.Done():
			return nil
		}
	}
}

// send hands the message to the conversation without blocking the UI while a
// previous response is still streaming.
func (m model) send(message string) tea.Cmd {
	return func() tea.Msg {
		select {
		case m.toLLM <- message:
		case <-m.ctx.Done():
		}
		return nil
	}
}

var messageTypeToStyle = map[messageType]lipgloss.Style{
	messageTypeHuman: lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Pink),
	messageTypeAI:    lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Cyan),
	messageTypeError: lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Red),
}

var messageTypeToIcon = map[messageType]string{
	messageTypeHuman: "🥷",
	messageTypeAI:    "✨",
	messageTypeError: "💥",
}

func formatMessage(msg chatMessage) string {
	style, ok := messageTypeToStyle[msg.Type]
	if !ok {
		return msg.Content
	}
	icon, ok := messageTypeToIcon[msg.Type]
	if !ok {
		icon = "🤷"
	}
	wrapped := wordwrap.String(strings.TrimSpace(icon+" "+msg.Content), 80)
	return style.Render(wrapped)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case []chatMessage:
		var sb strings.Builder
		for _, cm := range msg {
			sb.WriteString(formatMessage(cm))
			sb.WriteString("\n")
		}
		m.viewport.SetContent(sb.String())
		m.viewport.GotoBottom()
		return m, m.subscribeToFromLLM()
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.textarea.Height() - 3
		m.textarea.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			return m, tea.Quit
		case "enter":
			v := m.textarea.Value()

			if strings.TrimSpace(v) == "" {
				// The server rejects empty messages.
				return m, nil
			}

			m.textarea.Reset()
			return m, m.send(v)
		default:
			// Send all other keypresses to the textarea.
			var cmd tea.Cmd
			m.textarea, cmd = m.textarea.Update(msg)
			return m, cmd
		}

	case cursor.BlinkMsg:
		// Textarea should also process cursor blinks.
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

func (m model) View() string {
	return fmt.Sprintf("%s\n\n%s",
		m.viewport.View(),
		m.textarea.View(),
	) + "\n\n"
}
