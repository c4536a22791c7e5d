// RZX CLI - Command line client for the RZX chat relay
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/rzx/clients/go/rzx"
)

var (
	serverURL string
	clientID  string
	asJSON    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rzx",
		Short: "RZX CLI - chat with the RZX relay",
		Long: `RZX CLI - chat with the RZX relay and manage generated projects.

Environment:
  RZX_URL        Server URL (default: http://localhost:8080)
  RZX_CLIENT_ID  Client id used for chat history (default: cli-<hostname>)`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("RZX_URL", rzx.DefaultURL), "Server URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", envOr("RZX_CLIENT_ID", defaultClientID()), "Client id")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Output as JSON")

	rootCmd.AddCommand(
		statusCmd(),
		sendCmd(),
		projectsCmd(),
		deleteCmd(),
		previewCmd(),
		historyCmd(),
		chatCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *rzx.Client {
	return rzx.NewClient(serverURL, clientID)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the server is online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(resp)
			}
			fmt.Printf("%s %s\n", color.GreenString("●"), resp.Status)
			fmt.Printf("  Uptime:      %.0fs\n", resp.Uptime)
			fmt.Printf("  Started:     %s\n", resp.StartedAt)
			fmt.Printf("  Connections: %d\n", resp.Connections)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message or command and print the reply",
		Long: `Send one message or command and print the reply.

Examples:
  rzx send "explain closures in javascript"
  rzx send "/gerar-js a todo list with local storage"
  rzx send /listar-projetos`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := newClient().SendMessage(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(reply)
			}
			fmt.Println(reply.Response)
			if reply.ProjectID != "" {
				fmt.Printf("\n%s %s\n", color.CyanString("project:"), reply.ProjectID)
			}
			return nil
		},
	}
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List generated projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newClient().ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println(color.HiBlackString("no projects"))
				return nil
			}
			for _, p := range list {
				fmt.Printf("  %s  %s %s\n", color.CyanString(p.ID), p.Name, color.HiBlackString("(%d files, %s)", len(p.Files), p.CreatedAt))
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project_id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s deleted %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	}
}

func previewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <project_id>",
		Short: "Create a preview of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().CreatePreview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(p)
			}
			fmt.Printf("%s %s%s\n", color.GreenString("✓"), strings.TrimRight(serverURL, "/"), p.URL)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the stored chat history of this client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := newClient().History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(msgs)
			}
			for _, m := range msgs {
				printMessage(m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of messages")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, newClient())
		},
	}
}

func runChat(ctx context.Context, client *rzx.Client) error {
	conn := rzx.NewConn(client)
	conn.OnHistory(func(msgs []rzx.Message) {
		for _, m := range msgs {
			printMessage(m)
		}
	})
	conn.OnMessage(printMessage)
	conn.OnError(func(e rzx.ErrorInfo) {
		fmt.Fprintln(os.Stderr, color.RedString("error: %s", e.Message))
		if e.Details != "" {
			fmt.Fprintln(os.Stderr, color.HiBlackString("  %s", e.Details))
		}
	})
	conn.OnConnectionChange(func(up bool) {
		if !up {
			fmt.Fprintln(os.Stderr, color.YellowString("disconnected, reconnecting..."))
		}
	})

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()
	fmt.Println(color.HiBlackString("connected as %s, type /ajuda for commands, Ctrl-D to quit", client.ClientID))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-conn.Done():
			return fmt.Errorf("connection lost")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			live, err := conn.Send(ctx, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
				continue
			}
			if !live {
				fmt.Fprintln(os.Stderr, color.YellowString("offline, message saved to history"))
			}
		}
	}
}

func printMessage(m rzx.Message) {
	who := color.GreenString("you")
	if m.Sender == "ai" {
		who = color.CyanString("rzx")
	}
	fmt.Printf("%s: %s\n", who, m.Content)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultClientID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "cli"
	}
	return "cli-" + host
}
