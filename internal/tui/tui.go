package tui

import (
	"context"
	"fmt"

	"mealplan/internal/api"
	"mealplan/internal/jobsync"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the meal planner until the user quits. The background watch
// starts immediately so a job begun elsewhere is picked up.
func Run(ctx context.Context, client *api.Client, opts ...jobsync.Option) error {
	presenter := NewPresenter(client)
	syncer := jobsync.New(ctx, client, presenter, opts...)
	defer syncer.Close()

	program := tea.NewProgram(NewModel(ctx, client, syncer), tea.WithAltScreen(), tea.WithContext(ctx))
	presenter.Bind(program.Send)

	syncer.StartBackgroundWatch()
	go syncer.CheckExisting()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
