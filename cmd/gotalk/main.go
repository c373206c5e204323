package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dmeise/gotalk/internal/config"
	"github.com/dmeise/gotalk/internal/notify"
	"github.com/dmeise/gotalk/internal/request"
	"github.com/dmeise/gotalk/internal/stats"
	"github.com/dmeise/gotalk/internal/talk"
)

var (
	cfgFile string
	once    bool
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	roomStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	unreadStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

var rootCmd = &cobra.Command{
	Use:          "gotalk",
	Short:        "poll-based chat synchronization for a Nextcloud Talk server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "path to config file")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single sync and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	// .env carries GOTALK_* overrides during development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Println("skipping .env:", err)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	updater := stats.NewStatsUpdater(mux)
	updater.Run()
	defer updater.Stop()

	if cfg.DebugAddr != "" {
		srv := stats.DebugServer(cfg.DebugAddr, os.Stderr, mux)
		go func() {
			logger.Printf("debug listener on %s", cfg.DebugAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Println("debug listener:", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Println("debug listener shutdown:", err)
			}
		}()
	}

	client := request.NewClient(cfg, logger)
	dispatcher := request.NewDispatcher(client, logger, updater)
	dispatcher.Run()
	defer stopDispatcher(dispatcher, logger)

	session, err := talk.NewSession(cfg, dispatcher, notify.NewLogNotifier(logger), updater, logger)
	if err != nil {
		return err
	}
	defer persist(session, logger)

	printSummary(session)
	if once {
		return nil
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := session.UpdateRooms(false); err != nil {
				logger.Println("poll:", err)
				continue
			}
			printSummary(session)
		case sig := <-sigs:
			logger.Printf("received signal: %s", sig)
			return nil
		}
	}
}

func printSummary(session *talk.Session) {
	unread := session.UnreadRooms()
	if len(unread) == 0 {
		fmt.Println(titleStyle.Render("gotalk"), "all caught up")
		return
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("gotalk") + "\n")
	for _, entry := range unread {
		room, ok := session.Room(entry.Token)
		if !ok {
			continue
		}
		count := unreadStyle.Render(fmt.Sprintf("%d unread", room.Unread()))
		b.WriteString(fmt.Sprintf("  %s  %s\n", roomStyle.Render(entry.DisplayName), count))
	}
	fmt.Print(b.String())
}

func persist(session *talk.Session, logger *log.Logger) {
	if err := session.WriteCache(); err != nil {
		logger.Println("persist cache:", err)
	}
}

func stopDispatcher(dispatcher *request.Dispatcher, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Println("dispatcher shutdown:", err)
	}
}
