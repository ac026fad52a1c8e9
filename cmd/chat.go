package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Zerofisher/anxun/internal/app"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the security assistant",
	Long: `Ask the security assistant a question. With a message argument the reply
is printed and the command exits; without one an interactive session starts.

Interactive commands:
  /clear     forget this session's history
  /history   print this session's history
  /exit      leave the session`,
	Example: `  anxun chat "如何识别ARP欺骗?"
  anxun chat --stream
  anxun chat --session lab-1`,
	GroupID: "analysis",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runChat,
}

// chat flags
var (
	chatSession string
	chatModel   string
	chatStream  bool
)

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Session id (default: a new random id)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model used for the chat")
	chatCmd.Flags().BoolVar(&chatStream, "stream", true, "Stream the reply as it is generated")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := setupService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := app.ChatOptions{SessionID: chatSession, Model: chatModel}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}

	if len(args) == 1 {
		return askOnce(ctx, svc, os.Stdout, args[0], opts)
	}

	fmt.Printf("安巡安全助手 (session %s). Type /exit to quit.\n", opts.SessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			svc.ClearChat(opts.SessionID)
			fmt.Println("聊天历史已清空")
			continue
		case "/history":
			for _, turn := range svc.ChatHistory(opts.SessionID) {
				fmt.Printf("[%s] %s: %s\n", turn.Timestamp.Format("15:04:05"), turn.Role, turn.Content)
			}
			continue
		}
		if err := askOnce(ctx, svc, os.Stdout, line, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// askOnce sends one message and prints the reply.
func askOnce(ctx context.Context, svc *app.Service, out io.Writer, message string, opts app.ChatOptions) error {
	if !chatStream {
		reply, err := svc.Chat(ctx, message, opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply)
		return nil
	}

	chunks, stop, err := svc.ChatStream(ctx, message, opts)
	if err != nil {
		return err
	}
	defer stop()
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			fmt.Fprintln(out)
			return chunk.Err
		case chunk.Done:
			fmt.Fprintln(out)
		default:
			fmt.Fprint(out, chunk.Content)
		}
	}
	return nil
}
