package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Presenter turns synchronizer effects into model messages. Until Bind is
// called effects are dropped.
type Presenter struct {
	backend Backend

	mu   sync.Mutex
	send func(tea.Msg)
}

func NewPresenter(backend Backend) *Presenter {
	return &Presenter{backend: backend}
}

// Bind routes messages to send, normally (*tea.Program).Send.
func (p *Presenter) Bind(send func(tea.Msg)) {
	p.mu.Lock()
	p.send = send
	p.mu.Unlock()
}

func (p *Presenter) emit(msg tea.Msg) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	if send != nil {
		send(msg)
	}
}

func (p *Presenter) ShowProgress(text string) { p.emit(progressMsg(text)) }
func (p *Presenter) SetBusy(busy bool)        { p.emit(busyMsg(busy)) }
func (p *Presenter) NotifySuccess(text string) {
	p.emit(alertMsg{kind: alertSuccess, text: text})
}
func (p *Presenter) NotifyError(text string) {
	p.emit(alertMsg{kind: alertError, text: text})
}

// RenderResults fetches the latest recommendations and hands them to the
// model, which renders them or shows a load failure.
func (p *Presenter) RenderResults(ctx context.Context) {
	rec, err := p.backend.Recommendations(ctx)
	p.emit(resultsMsg{rec: rec, err: err})
}
