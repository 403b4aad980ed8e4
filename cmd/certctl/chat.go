package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/urfave/cli/v2"

	"CertVerify-Chain/internal/agent"
	"CertVerify-Chain/internal/app"
	"CertVerify-Chain/internal/conversation"
	xerrors "CertVerify-Chain/internal/errors"
)

const separator = "-------------------"

// streamer 是交互式对话依赖的流式接口，由 verification.Relay 实现。
type streamer interface {
	Stream(ctx context.Context, threadID, message string) iter.Seq2[agent.Fragment, error]
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "start the interactive certificate management agent (default)",
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	a, err := buildApp(c, app.WithSystemPrompt(agent.ManagementPrompt))
	if err != nil {
		return err
	}
	defer a.Close()
	return runChat(c.Context, a.Relay, c.App.Reader, c.App.Writer)
}

// runChat 逐行读取用户输入并打印 Agent 的每个片段，输入 exit 时结束。
func runChat(ctx context.Context, s streamer, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "🎓 University Certificate Management Agent")
	fmt.Fprintln(out, "✅ Connected to Base Sepolia")
	fmt.Fprintln(out, "📝 Type 'exit' to quit")
	fmt.Fprintln(out, "\nExample commands:")
	fmt.Fprintln(out, "- 'Mint a certificate for student 0x...'")
	fmt.Fprintln(out, "- 'Add university 0x...'")
	fmt.Fprintln(out, "- 'Verify scanned certificate for student 0x...'")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()
		if strings.EqualFold(line, "exit") {
			return nil
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		for fragment, err := range s.Stream(ctx, conversation.AgentThreadID, line) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				fmt.Fprintf(out, "❌ %s\n", describe(err))
				break
			}
			fmt.Fprintln(out, fragment.Text)
			fmt.Fprintln(out, separator)
		}
	}
}

func describe(err error) string {
	if e, ok := xerrors.From(err); ok {
		return e.Message()
	}
	return err.Error()
}
