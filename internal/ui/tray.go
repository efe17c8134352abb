package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
)

// ActiveCounter reports how many job executors are currently live.
type ActiveCounter interface {
	ActiveCount() int
}

type Tray struct {
	orchestrator ActiveCounter
	logger       *slog.Logger

	statusItem *systray.MenuItem
	jobsItem   *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Orchestrator ActiveCounter
	Logger       *slog.Logger
	OnQuit       func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		orchestrator: cfg.Orchestrator,
		logger:       cfg.Logger,
		onQuit:       cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	if len(iconBytes) > 0 {
		systray.SetIcon(iconBytes)
	}
	systray.SetTitle("Clipforge")
	systray.SetTooltip("Clipforge Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.jobsItem = systray.AddMenuItem("Jobs: 0", "Running jobs")
	t.jobsItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Clipforge Agent")

	go func() {
		for range quitItem.ClickedCh {
			t.logger.Info("quit requested from tray")
			if t.onQuit != nil {
				t.onQuit()
			}
			systray.Quit()
			return
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// RefreshStatus updates the menu from the orchestrator's live state.
func (t *Tray) RefreshStatus() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil || t.orchestrator == nil {
		return
	}

	n := t.orchestrator.ActiveCount()
	if n > 0 {
		t.statusItem.SetTitle("Status: Processing")
	} else {
		t.statusItem.SetTitle("Status: Idle")
	}
	t.jobsItem.SetTitle(fmt.Sprintf("Jobs: %d", n))
}

func (t *Tray) Quit() {
	systray.Quit()
}
