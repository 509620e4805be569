package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type turn struct {
	question string
	answer   string
	pages    []int
	err      error
	pending  bool
}

// chatView asks questions against one collection
type chatView struct {
	collection string
	input      textinput.Model
	viewport   viewport.Model
	turns      []turn
	width      int
}

func newChatView() chatView {
	ti := textinput.New()
	ti.Prompt = "Ask > "
	ti.Placeholder = "What is this document about?"
	ti.CharLimit = 0
	return chatView{input: ti, viewport: viewport.New(80, 15), width: 80}
}

func (c *chatView) open(collection string) tea.Cmd {
	if collection != c.collection {
		c.collection = collection
		c.turns = nil
		c.refresh()
	}
	return c.input.Focus()
}

func (c *chatView) resize(width, height int) {
	c.width = max(20, width-4)
	c.viewport.Width = c.width
	// title, header, input box, help line and borders
	c.viewport.Height = max(3, height-10)
	c.refresh()
}

func (c *chatView) pending() bool {
	return len(c.turns) > 0 && c.turns[len(c.turns)-1].pending
}

func (m Model) updateChat(msg tea.Msg) (tea.Model, tea.Cmd) {
	c := &m.chat
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "esc":
			m.screen = screenDocuments
			c.input.Blur()
			return m, nil
		case "enter":
			q := strings.TrimSpace(c.input.Value())
			if q == "" || c.pending() {
				return m, nil
			}
			c.input.SetValue("")
			c.turns = append(c.turns, turn{question: q, pending: true})
			c.refresh()
			return m, m.ask(c.collection, q)
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			c.viewport, cmd = c.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return m, cmd
}

// answered fills in the pending turn; answers for a collection that is no
// longer open are dropped
func (c *chatView) answered(msg answeredMsg) {
	if msg.collection != c.collection {
		return
	}
	for i := len(c.turns) - 1; i >= 0; i-- {
		t := &c.turns[i]
		if t.pending && t.question == msg.question {
			t.pending = false
			t.answer = msg.answer.Answer
			t.pages = msg.answer.RelevantPages
			t.err = msg.err
			break
		}
	}
	c.refresh()
}

func (c *chatView) refresh() {
	c.viewport.SetContent(c.transcript())
	c.viewport.GotoBottom()
}

func (c *chatView) transcript() string {
	if len(c.turns) == 0 {
		return dimStyle.Render("Ask anything about this document.")
	}
	answerStyle := lipgloss.NewStyle().Width(max(10, c.width-len("inkchat: ")))
	var b strings.Builder
	for i, t := range c.turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(youStyle.Render("You: "))
		b.WriteString(t.question)
		b.WriteString("\n")
		b.WriteString(botStyle.Render("inkchat: "))
		switch {
		case t.pending:
			b.WriteString(dimStyle.Render("thinking..."))
		case t.err != nil:
			b.WriteString(errorStyle.Render(t.err.Error()))
		default:
			b.WriteString(answerStyle.Render(t.answer))
			if len(t.pages) > 0 {
				b.WriteString("\n")
				b.WriteString(dimStyle.Render("Pages: " + formatPages(t.pages)))
			}
		}
	}
	return b.String()
}

func formatPages(pages []int) string {
	s := make([]string, len(pages))
	for i, p := range pages {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ", ")
}

func (c chatView) view() string {
	header := fmt.Sprintf("Chatting with %s", selectedItem.Render(c.collection))
	return strings.Join([]string{
		header,
		boxStyle.Render(c.viewport.View()),
		boxStyle.Render(c.input.View()),
		dimStyle.Render("enter: ask  up/down: scroll  esc: back  ctrl+c: quit"),
	}, "\n")
}
