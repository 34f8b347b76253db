package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/avannotate/pipechat"
	"github.com/avannotate/pipechat/internal/presentation/tui"
	"github.com/avannotate/pipechat/pkg/domain"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/session"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Build a pipeline interactively",
	Long:  `Opens an interactive conversation. Describe the analysis you need; the engine adds validated tools to the pipeline as you go.`,
	Run: func(cmd *cobra.Command, args []string) {
		engine, err := newEngine(cmd)
		if err != nil {
			fmt.Printf("Error initializing engine: %v\n", err)
			os.Exit(1)
		}
		ctx := cmd.Context()
		defer func() { _ = engine.Shutdown(ctx) }()

		if err := engine.LoadCatalog(ctx); err != nil {
			fmt.Printf("Error loading tool directory: %v\n", err)
			os.Exit(1)
		}

		tui.PrintBanner(pipechat.Version)
		fmt.Printf("%d tools available. Type 'exit' to quit, 'save <name>' to store the pipeline.\n\n", engine.Directory().Len())

		sess := engine.NewSession()
		events, err := sess.Subscribe(ctx, 0)
		if err != nil {
			fmt.Printf("Error subscribing to session: %v\n", err)
			os.Exit(1)
		}

		render := tui.NewRenderer()
		reader := bufio.NewReader(os.Stdin)

		for {
			fmt.Print("> ")
			text, err := reader.ReadString('\n')
			if err != nil {
				fmt.Println()
				return
			}
			input := strings.TrimSpace(text)

			switch {
			case input == "":
				continue
			case input == "exit" || input == "quit":
				fmt.Println("Bye!")
				return
			case strings.HasPrefix(input, "save "):
				savePipeline(cmd, engine, sess, strings.TrimSpace(strings.TrimPrefix(input, "save ")))
				continue
			}

			if err := sess.Send(ctx, pipechat.TurnInput{Message: input}); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			followTurn(sess, events, reader, render)
		}
	},
}

// followTurn consumes events until the turn ends, prompting for human
// confirmation when the engine asks for it.
func followTurn(sess *session.Session, events <-chan domain.Event, reader *bufio.Reader, render func(string) string) {
	for ev := range events {
		switch domain.ParseEventKind(string(ev.Type)) {
		case domain.EventTextMessageContent:
			if content, ok := ev.Data["content"].(string); ok {
				fmt.Print(render(content))
			}

		case domain.EventToolCallStart:
			fmt.Printf("  … considering %v\n", ev.Data["tool_name"])

		case domain.EventToolCallResult:
			result, _ := ev.Data["result"].(map[string]any)
			fmt.Printf("  + added %v as %v\n", ev.Data["tool_name"], result["node_id"])
			if warning, ok := ev.Data["warning"].(string); ok {
				fmt.Printf("  ! %s\n", warning)
			}

		case domain.EventValidationRequest:
			fmt.Printf("  ? %v\n  approve? [y/N] ", ev.Data["message"])
			answer, _ := reader.ReadString('\n')
			approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
			if err := sess.Feedback(ports.Feedback{Approved: approved}); err != nil {
				fmt.Printf("Error sending feedback: %v\n", err)
			}

		case domain.EventStateDelta:
			fmt.Printf("  pipeline: %v nodes, %v edges\n", ev.Data["nodes"], ev.Data["edges"])

		case domain.EventRunFinished:
			return

		case domain.EventRunError:
			fmt.Printf("  x turn failed: %v\n", ev.Data["error"])
			return

		case domain.EventUnrecognized:
			fmt.Printf("  ? unrecognized event %q\n", ev.Type)
		}
	}
}

func savePipeline(cmd *cobra.Command, engine *pipechat.Engine, sess *session.Session, name string) {
	if name == "" {
		fmt.Println("Usage: save <name>")
		return
	}
	sess.Graph.Rename(name)
	if err := engine.Store().Save(cmd.Context(), sess.Graph.Document()); err != nil {
		fmt.Printf("Error saving pipeline: %v\n", err)
		return
	}
	fmt.Printf("Saved pipeline %q\n", name)
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
