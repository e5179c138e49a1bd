package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"lawrag/internal/domain"
)

// SampleQuestion is asked when the user submits an empty line.
const SampleQuestion = "Katma Değer Vergisi Kanununa göre ihracat teslimleri nasıl istisnadır?"

// AnswerPort is the TUI-facing subset of the retrieval service.
type AnswerPort interface {
	AnswerQuestion(ctx context.Context, question string, topK, maxOutputTokens int) (domain.Answer, error)
}

// Options bound a single question.
type Options struct {
	TopK            int
	MaxOutputTokens int
}

type answerMsg struct {
	question string
	answer   domain.Answer
	err      error
}

// Model is the Bubble Tea model for the question loop.
type Model struct {
	service  AnswerPort
	opts     Options
	ctx      context.Context
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	header   string
	status   string
	busy     bool
	ready    bool
	fatal    error
	question string
	answer   domain.Answer
	answered bool
}

// New creates a new TUI model instance.
func New(ctx context.Context, service AnswerPort, opts Options, header string) Model {
	ti := textinput.New()
	ti.Prompt = "Soru: "
	ti.Placeholder = "Soru yazıp Enter'a basın (boş: örnek soru, çıkmak için 'exit')"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(0, 0)
	return Model{
		service:  service,
		opts:     opts,
		ctx:      ctx,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		header:   header,
		status:   "Hazır. Soru sorun.",
	}
}

// Err returns the fatal error that ended the session, if any.
func (m Model) Err() error { return m.fatal }

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// IsQuit reports whether the input asks to leave the loop.
func IsQuit(q string) bool {
	switch strings.ToLower(strings.TrimSpace(q)) {
	case "exit", "quit", "çık", "q":
		return true
	}
	return false
}

func (m Model) ask(q string) tea.Cmd {
	svc, ctx, opts := m.service, m.ctx, m.opts
	return func() tea.Msg {
		ans, err := svc.AnswerQuestion(ctx, q, opts.TopK, opts.MaxOutputTokens)
		return answerMsg{question: q, answer: ans, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + spacer, status, query box, spacer
		vh := msg.Height - reserved - ah
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, vh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		m.question = msg.question
		m.answer = msg.answer
		m.answered = true
		switch {
		case msg.err == nil:
			m.status = fmt.Sprintf("Toplam süre: %.2fs", msg.answer.Elapsed.Seconds())
		case domain.IsFatal(msg.err):
			m.fatal = msg.err
			return m, tea.Quit
		case errors.Is(msg.err, domain.ErrGenerationFailure):
			m.answer.Text = "HATA: Model yanıt veremedi. Detay: " + msg.err.Error()
			m.status = "Cevap üretilemedi; yeni bir soru sorabilirsiniz."
		default:
			m.answer.Text = "HATA: " + msg.err.Error()
			m.status = "Soru işlenemedi."
		}
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			q := strings.TrimSpace(m.input.Value())
			if IsQuit(q) {
				return m, tea.Quit
			}
			if q == "" {
				q = SampleQuestion
			}
			m.input.Reset()
			m.busy = true
			m.question = q
			m.status = "Cevap bekleniyor..."
			return m, tea.Batch(m.ask(q), m.spinner.Tick)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and the latest answer.
func (m Model) View() string {
	if !m.ready {
		return "Yükleniyor..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Mevzuat Soru-Cevap")
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	answer := answerBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	status = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(status)
	return header + "\n" + sub + "\n" + answer + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if !m.answered {
		return "Henüz soru sorulmadı."
	}
	var b strings.Builder
	b.WriteString(questionStyle.Render("Soru: " + m.question))
	b.WriteString("\n\n")
	b.WriteString(titleStyle.Render("Cevap:"))
	b.WriteString("\n")
	b.WriteString(m.answer.Text)
	if len(m.answer.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(titleStyle.Render("Kullanılan Kaynaklar:"))
		b.WriteString(" ")
		b.WriteString(sourceStyle.Render(strings.Join(m.answer.Sources, ", ")))
	}
	return b.String()
}

// RunOnce answers a single question and prints it to w. A generation failure
// still prints the sources that were retrieved, then returns the error.
func RunOnce(ctx context.Context, service AnswerPort, w io.Writer, question string, opts Options) error {
	if strings.TrimSpace(question) == "" {
		question = SampleQuestion
	}
	ans, err := service.AnswerQuestion(ctx, question, opts.TopK, opts.MaxOutputTokens)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrGenerationFailure):
		ans.Text = "HATA: Model yanıt veremedi."
	default:
		return err
	}
	if _, werr := fmt.Fprintln(w, FormatAnswer(ans)); werr != nil && err == nil {
		return werr
	}
	return err
}

// FormatAnswer renders an answer for plain terminal output.
func FormatAnswer(a domain.Answer) string {
	return fmt.Sprintf("Cevap:\n%s\n\nKullanılan Kaynaklar: %s\n(Toplam Süre: %s)",
		a.Text, strings.Join(a.Sources, ", "), a.Elapsed.Round(10*time.Millisecond))
}

var (
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	titleStyle     = lipgloss.NewStyle().Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)
