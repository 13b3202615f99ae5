package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"

	"taskboard-sync/client"
	"taskboard-sync/domain"
)

var Version = "dev"

func main() {
	if err := watchCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Follow the live event stream of one project",
		Long:    "Joins a project room and prints every event as one JSON line. The stream is re-joined whenever the connection drops, until interrupted.",
		Version: Version,
		RunE:    runWatch,
	}

	cmd.Flags().String("url", "ws://localhost:8080/ws", "Websocket endpoint")
	cmd.Flags().StringP("project", "p", "", "Project id to follow")
	cmd.Flags().StringP("token", "t", "", "Bearer token, when the server requires one")
	cmd.Flags().Duration("retry", 2*time.Second, "Delay before re-joining after a drop")
	cmd.Flags().String("log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	url, _ := cmd.Flags().GetString("url")
	projectID, _ := cmd.Flags().GetString("project")
	token, _ := cmd.Flags().GetString("token")
	retry, _ := cmd.Flags().GetDuration("retry")
	level, _ := cmd.Flags().GetString("log-level")

	log := logs.GetLoggerFromString(level)

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	sub := client.New(url,
		client.WithLogger(log),
		client.WithHeader(header),
		client.OnEvent(func(evt domain.Event) {
			if err := out.Encode(evt); err != nil {
				log.Error("write event", "error", err)
			}
		}),
	)
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sub.View(ctx, projectID); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
		}

		log.Warn("connection lost, rejoining", "room", projectID, "in", retry)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
			err := sub.Reconnect(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("rejoin failed", "room", projectID, "error", err)
		}
	}
}
