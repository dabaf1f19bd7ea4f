package tui

import (
	"context"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// DefaultScanInterval throttles scan progress sent to the view.
const DefaultScanInterval = 50 * time.Millisecond

// Bridge forwards run events to the view. It is the run's Observer,
// Confirmer and state callback.
type Bridge struct {
	send     func(tea.Msg)
	interval time.Duration

	mu       sync.Mutex
	lastScan time.Time
}

// NewBridge returns a Bridge delivering messages through send.
func NewBridge(send func(tea.Msg)) *Bridge {
	return &Bridge{send: send, interval: DefaultScanInterval}
}

// OnScan implements types.Observer. Progress is throttled except for the
// final file of a pass.
func (b *Bridge) OnScan(p types.ScanProgress) {
	now := time.Now()
	b.mu.Lock()
	if p.Scanned < p.Total && now.Sub(b.lastScan) < b.interval {
		b.mu.Unlock()
		return
	}
	b.lastScan = now
	b.mu.Unlock()
	b.send(ScanMsg(p))
}

// OnInstall implements types.Observer.
func (b *Bridge) OnInstall(p types.InstallProgress) {
	b.send(InstallMsg(p))
}

// OnState is passed as run.Options.OnState.
func (b *Bridge) OnState(from, to run.State) {
	b.send(StateMsg{From: from, To: to})
}

// Confirm implements run.Confirmer by asking in the view.
func (b *Bridge) Confirm(ctx context.Context, plan run.Plan) (bool, error) {
	reply := make(chan bool, 1)
	b.send(ConfirmMsg{Plan: plan, Reply: reply})
	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var (
	_ types.Observer = (*Bridge)(nil)
	_ run.Confirmer  = (*Bridge)(nil)
)

// Run shows the progress view while start executes the run, and returns
// what start returned. cancel is called when the user interrupts.
func Run(mode, root string, cancel func(), output io.Writer, start func(b *Bridge) (*run.Result, error)) (*run.Result, error) {
	logs := logging.Subscribe()
	defer logging.Unsubscribe(logs)

	p := tea.NewProgram(NewModel(mode, root, cancel, logs), tea.WithOutput(output))
	bridge := NewBridge(p.Send)

	type outcome struct {
		res *run.Result
		err error
	}
	finished := make(chan outcome, 1)
	go func() {
		res, err := start(bridge)
		finished <- outcome{res, err}
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-finished
		return nil, err
	}
	out := <-finished
	return out.res, out.err
}
