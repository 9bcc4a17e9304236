package chooser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ilview/internal/engine/metadata"
	"ilview/internal/engine/resolver"
	"ilview/internal/shared/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	referenceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FBBF24")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type optionKind int

const (
	optionBrowse optionKind = iota
	optionFetch
	optionAssembly
	optionCancel
)

type option struct {
	kind        optionKind
	title, desc string
	assembly    *metadata.Assembly
	repository  string
}

func (o option) Title() string       { return o.title }
func (o option) Description() string { return o.desc }
func (o option) FilterValue() string { return o.title }

type model struct {
	req      resolver.Request
	options  list.Model
	path     textinput.Model
	browsing bool
	status   string

	response resolver.Response
	done     bool
}

func newModel(req resolver.Request, loaded []*metadata.Assembly) model {
	items := []list.Item{
		option{kind: optionBrowse, title: "Browse for file", desc: "Type the path of the assembly to load"},
	}
	if req.Repository != "" {
		items = append(items, option{
			kind:       optionFetch,
			title:      "Fetch from repository",
			desc:       req.Repository,
			repository: req.Repository,
		})
	}
	for _, asm := range loaded {
		if asm == req.Calling {
			continue
		}
		items = append(items, option{
			kind:     optionAssembly,
			title:    asm.Name.Name,
			desc:     asm.FullName(),
			assembly: asm,
		})
	}
	items = append(items, option{kind: optionCancel, title: "Cancel", desc: "Leave the reference unresolved"})

	options := list.New(items, list.NewDefaultDelegate(), 0, 0)
	options.Title = "Resolve reference"
	options.SetShowStatusBar(false)
	options.SetFilteringEnabled(true)

	path := textinput.New()
	path.Placeholder = req.Reference.Name + ".dll"
	path.Prompt = "path: "

	return model{
		req:      req,
		options:  options,
		path:     path,
		response: resolver.ResponseCancelled(),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m.finish(resolver.ResponseCancelled())
		}
		if m.browsing {
			return m.updatePath(msg)
		}
		if m.options.FilterState() != list.Filtering {
			switch msg.Type {
			case tea.KeyEsc:
				return m.finish(resolver.ResponseCancelled())
			case tea.KeyEnter:
				return m.choose()
			}
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		height := msg.Height - v - 6
		if height < 5 {
			height = 5
		}
		m.options.SetSize(msg.Width-h, height)
		m.path.Width = msg.Width - h - len(m.path.Prompt) - 1
		return m, nil
	}

	var cmd tea.Cmd
	if m.browsing {
		m.path, cmd = m.path.Update(msg)
	} else {
		m.options, cmd = m.options.Update(msg)
	}
	return m, cmd
}

func (m model) choose() (tea.Model, tea.Cmd) {
	selected, ok := m.options.SelectedItem().(option)
	if !ok {
		return m, nil
	}
	switch selected.kind {
	case optionBrowse:
		m.browsing = true
		m.status = ""
		return m, m.path.Focus()
	case optionFetch:
		return m.finish(resolver.ResponseFetch(selected.repository))
	case optionAssembly:
		return m.finish(resolver.ResponseAssembly(selected.assembly))
	}
	return m.finish(resolver.ResponseCancelled())
}

func (m model) updatePath(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.browsing = false
		m.path.Blur()
		m.status = ""
		return m, nil
	case tea.KeyEnter:
		path := strings.TrimSpace(m.path.Value())
		if path == "" {
			m.status = "Enter a path."
			return m, nil
		}
		// A bare name is looked up next to the calling assembly.
		if util.IsBareFileName(path) && m.req.Calling != nil && m.req.Calling.Location != "" {
			path = filepath.Join(filepath.Dir(m.req.Calling.Location), path)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		info, err := os.Stat(path)
		if err != nil {
			m.status = fmt.Sprintf("Cannot open %s: %v", path, err)
			return m, nil
		}
		if info.IsDir() {
			path = filepath.Join(path, m.req.Reference.Name+".dll")
			if _, err := os.Stat(path); err != nil {
				m.status = fmt.Sprintf("No %s.dll in that directory.", m.req.Reference.Name)
				return m, nil
			}
		}
		return m.finish(resolver.ResponseFile(path))
	}
	var cmd tea.Cmd
	m.path, cmd = m.path.Update(msg)
	return m, cmd
}

func (m model) finish(resp resolver.Response) (tea.Model, tea.Cmd) {
	m.response = resp
	m.done = true
	return m, tea.Quit
}

func (m model) View() string {
	if m.done {
		return ""
	}
	calling := "?"
	if m.req.Calling != nil {
		calling = m.req.Calling.Name.Name
	}
	header := fmt.Sprintf("%s\n%s needs %s\n",
		titleStyle.Render("Unresolved assembly reference"),
		calling,
		referenceStyle.Render(m.req.Reference.FullName()))

	body := m.options.View()
	help := statusStyle.Render("enter: choose | /: filter | esc: cancel")
	if m.browsing {
		body = m.path.View()
		help = statusStyle.Render("enter: load | esc: back")
	}
	if m.status != "" {
		body += "\n\n" + errorStyle.Render(m.status)
	}
	return docStyle.Render(header + "\n" + help + "\n\n" + body)
}
