package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// documentsView lists collections and ingests new PDFs
type documentsView struct {
	input       textinput.Model
	collections []string
	cursor      int
	listFocused bool
	busy        bool
	status      string
	failed      bool
}

func newDocumentsView() documentsView {
	ti := textinput.New()
	ti.Prompt = "PDF path > "
	ti.Placeholder = "~/papers/report.pdf"
	ti.CharLimit = 0
	ti.Focus()
	return documentsView{input: ti, status: "Enter a PDF path to ingest it."}
}

func (m Model) updateDocuments(msg tea.Msg) (tea.Model, tea.Cmd) {
	d := &m.docs
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		d.input, cmd = d.input.Update(msg)
		return m, cmd
	}

	if !d.listFocused {
		switch key.String() {
		case "enter":
			path := expandPath(d.input.Value())
			if path == "" || d.busy {
				return m, nil
			}
			d.busy = true
			d.setStatus(fmt.Sprintf("Ingesting %s...", path), false)
			d.input.SetValue("")
			return m, m.ingest(path)
		case "tab", "down", "esc":
			if len(d.collections) > 0 {
				d.focusList()
			}
			return m, nil
		}
		var cmd tea.Cmd
		d.input, cmd = d.input.Update(msg)
		return m, cmd
	}

	switch key.String() {
	case "up", "k":
		d.cursor = max(d.cursor-1, 0)
	case "down", "j":
		d.cursor = min(d.cursor+1, len(d.collections)-1)
	case "tab", "i", "/":
		return m, d.focusInput()
	case "q":
		return m, tea.Quit
	case "d":
		name, ok := d.selected()
		if !ok || d.busy {
			return m, nil
		}
		d.busy = true
		d.setStatus(fmt.Sprintf("Deleting %s...", name), false)
		return m, m.deleteCollection(name)
	case "enter", "c":
		name, ok := d.selected()
		if !ok {
			return m, nil
		}
		m.screen = screenChat
		return m, m.chat.open(name)
	}
	return m, nil
}

func (d *documentsView) selected() (string, bool) {
	if d.cursor < 0 || d.cursor >= len(d.collections) {
		return "", false
	}
	return d.collections[d.cursor], true
}

func (d *documentsView) focusList() {
	d.listFocused = true
	d.input.Blur()
}

func (d *documentsView) focusInput() tea.Cmd {
	d.listFocused = false
	return d.input.Focus()
}

func (d *documentsView) setStatus(s string, failed bool) {
	d.status = s
	d.failed = failed
}

func (d *documentsView) mergeCollections(msg collectionsMsg) {
	if msg.err != nil {
		// indexes that cannot enumerate still show this session's uploads
		if len(d.collections) == 0 {
			d.setStatus("Existing collections unavailable: "+msg.err.Error(), true)
		}
		return
	}
	for _, n := range msg.names {
		if !slices.Contains(d.collections, n) {
			d.collections = append(d.collections, n)
		}
	}
}

func (d *documentsView) ingested(msg ingestedMsg) {
	d.busy = false
	if msg.err != nil {
		d.setStatus(fmt.Sprintf("Ingesting %s failed: %v", msg.path, msg.err), true)
		return
	}
	name := msg.result.CollectionName
	d.collections = append([]string{name}, slices.DeleteFunc(d.collections, func(s string) bool { return s == name })...)
	d.cursor = 0
	d.setStatus(fmt.Sprintf("Indexed %d chunks as %s. Press Enter on it to chat.", msg.result.Chunks, name), false)
	d.focusList()
}

func (d *documentsView) deleted(msg deletedMsg) {
	d.busy = false
	if msg.err != nil {
		d.setStatus(fmt.Sprintf("Deleting %s failed: %v", msg.name, msg.err), true)
		return
	}
	d.collections = slices.DeleteFunc(d.collections, func(s string) bool { return s == msg.name })
	d.cursor = min(d.cursor, max(len(d.collections)-1, 0))
	if len(d.collections) == 0 {
		d.focusInput()
	}
	d.setStatus("Deleted "+msg.name, false)
}

func (d documentsView) view() string {
	var b strings.Builder
	b.WriteString(boxStyle.Render(d.input.View()))
	b.WriteString("\n")

	var list strings.Builder
	if len(d.collections) == 0 {
		list.WriteString(dimStyle.Render("No documents yet."))
	}
	for i, name := range d.collections {
		if i > 0 {
			list.WriteString("\n")
		}
		if d.listFocused && i == d.cursor {
			list.WriteString(selectedItem.Render("> " + name))
		} else {
			list.WriteString("  " + name)
		}
	}
	b.WriteString(boxStyle.Render(list.String()))
	b.WriteString("\n")

	if d.failed {
		b.WriteString(errorStyle.Render(d.status))
	} else {
		b.WriteString(okStyle.Render(d.status))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("enter: ingest/open  tab: switch focus  d: delete  c: chat  q: quit"))
	return b.String()
}
