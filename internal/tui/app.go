// Package tui is a terminal front end for ingesting PDFs and asking
// questions about them.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ink-chat/inkchat/internal/rag"
)

// Pipeline is the subset of rag.Service the TUI drives
type Pipeline interface {
	Ingest(ctx context.Context, data []byte, name string) (rag.IngestResult, error)
	Answer(ctx context.Context, question, collection string) (rag.Answer, error)
	DeleteCollection(ctx context.Context, name string) (rag.DeleteResult, error)
	ListCollections(ctx context.Context) ([]string, error)
}

type screen int

const (
	screenDocuments screen = iota
	screenChat
)

// Model is the root bubbletea model; it owns both screens
type Model struct {
	ctx      context.Context
	pipeline Pipeline
	now      func() time.Time

	screen screen
	docs   documentsView
	chat   chatView
}

// New creates the root model
func New(ctx context.Context, p Pipeline) Model {
	return Model{
		ctx:      ctx,
		pipeline: p,
		now:      time.Now,
		docs:     newDocumentsView(),
		chat:     newChatView(),
	}
}

// Run starts the program and blocks until the user quits
func Run(ctx context.Context, p Pipeline) error {
	prog := tea.NewProgram(New(ctx, p), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	return err
}

// Init loads the existing collections
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listCollections())
}

// Update routes messages to the active screen
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.chat.resize(msg.Width, msg.Height)
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case collectionsMsg:
		m.docs.mergeCollections(msg)
		return m, nil
	case ingestedMsg:
		m.docs.ingested(msg)
		return m, nil
	case deletedMsg:
		m.docs.deleted(msg)
		return m, nil
	case answeredMsg:
		m.chat.answered(msg)
		return m, nil
	}

	if m.screen == screenChat {
		return m.updateChat(msg)
	}
	return m.updateDocuments(msg)
}

// View renders the active screen
func (m Model) View() string {
	var body string
	if m.screen == screenChat {
		body = m.chat.view()
	} else {
		body = m.docs.view()
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("inkchat"), body)
}

type collectionsMsg struct {
	names []string
	err   error
}

type ingestedMsg struct {
	path   string
	result rag.IngestResult
	err    error
}

type deletedMsg struct {
	name string
	err  error
}

type answeredMsg struct {
	collection string
	question   string
	answer     rag.Answer
	err        error
}

func (m Model) listCollections() tea.Cmd {
	return func() tea.Msg {
		names, err := m.pipeline.ListCollections(m.ctx)
		return collectionsMsg{names: names, err: err}
	}
}

func (m Model) ingest(path string) tea.Cmd {
	now := m.now()
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return ingestedMsg{path: path, err: fmt.Errorf("failed to read file: %w", err)}
		}
		res, err := m.pipeline.Ingest(m.ctx, data, rag.CollectionName(filepath.Base(path), now))
		return ingestedMsg{path: path, result: res, err: err}
	}
}

func (m Model) deleteCollection(name string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.pipeline.DeleteCollection(m.ctx, name)
		return deletedMsg{name: name, err: err}
	}
}

func (m Model) ask(collection, question string) tea.Cmd {
	return func() tea.Msg {
		ans, err := m.pipeline.Answer(m.ctx, question, collection)
		return answeredMsg{collection: collection, question: question, answer: ans, err: err}
	}
}

// expandPath resolves a leading ~ and surrounding quotes from drag and drop
func expandPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), `"'`)
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return p
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).MarginBottom(1)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	selectedItem = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	youStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)
