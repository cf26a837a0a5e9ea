package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/creamcroissant/xray-client/internal/client"
	"github.com/creamcroissant/xray-client/internal/config"
	"github.com/creamcroissant/xray-client/internal/monitor"
	"github.com/creamcroissant/xray-client/internal/support/logging"
	"github.com/creamcroissant/xray-client/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive node manager",
	Long:  "Launch an interactive terminal UI to browse nodes, switch, update and test them with live service status.",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 日志写入文件，避免破坏界面
	logFile, err := logging.OpenFile(cfg.Log.File)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger := logging.New(logging.Options{
		Level:     cfg.Log.SlogLevel(),
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
		Output:    logFile,
	})

	c, err := newClient(cfg, client.Deps{}, logger)
	if err != nil {
		return err
	}

	syncer := monitor.New(c, monitor.Options{
		Interval:      cfg.Monitor.Interval,
		ActionTimeout: cfg.Monitor.ActionTimeout,
		MessageTTL:    cfg.Monitor.MessageTTL,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := syncer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("status synchronizer stopped", "error", err)
		}
	}()

	p := tea.NewProgram(
		tui.NewModel(syncer, c),
		tea.WithAltScreen(),
	)
	_, runErr := p.Run()

	cancel()
	<-done
	if runErr != nil {
		return fmt.Errorf("run tui: %w", runErr)
	}
	return nil
}
