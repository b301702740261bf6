package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/Jmemon/contextual-clarity-sub001/internal/model"
	"github.com/Jmemon/contextual-clarity-sub001/internal/orchestrator"
	"github.com/Jmemon/contextual-clarity-sub001/pkg/app"
)

const studyHelp = `Commands:
  /done     I have recalled this point, evaluate now
  /enter    follow the suggested tangent
  /decline  stay on the current point
  /exit     return from a tangent
  /status   show progress
  /quit     pause (or finish, when every point is recalled)`

func studyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study <set>",
		Short: "Run a study session in the terminal",
		Long:  "Run a study session in the terminal. <set> is an id or a name. An open session for the set is resumed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, app.BuildOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ctx := cmd.Context()
			if err := rt.Chain.Start(); err != nil {
				return err
			}
			defer func() { _ = rt.Chain.Stop(context.WithoutCancel(ctx)) }()

			set, err := rt.Catalog.FindSet(ctx, args[0])
			if err != nil {
				return err
			}
			orch, err := rt.NewOrchestrator()
			if err != nil {
				return err
			}

			plain, _ := cmd.Flags().GetBool("plain")
			width, _ := cmd.Flags().GetInt("width")
			var render renderFunc = plainRenderer
			if !plain {
				if render, err = markdownRenderer(width); err != nil {
					return err
				}
			}

			loop := &studyLoop{
				orch:   orch,
				in:     cmd.InOrStdin(),
				out:    cmd.OutOrStdout(),
				render: render,
			}
			return loop.run(ctx, set)
		},
	}
	cmd.Flags().Bool("plain", false, "Print tutor messages without markdown rendering")
	cmd.Flags().Int("width", 100, "Word wrap width for rendered messages")
	return cmd
}

type renderFunc func(string) string

func plainRenderer(s string) string { return s + "\n" }

func markdownRenderer(width int) (renderFunc, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return func(s string) string {
		out, err := r.Render(s)
		if err != nil {
			return s + "\n"
		}
		return out
	}, nil
}

// studyLoop is the terminal REPL over one orchestrator.
type studyLoop struct {
	orch   *orchestrator.Orchestrator
	in     io.Reader
	out    io.Writer
	render renderFunc
}

func (l *studyLoop) run(ctx context.Context, set model.RecallSet) error {
	snap, err := l.orch.StartSession(ctx, set.ID)
	if errors.Is(err, orchestrator.ErrNoPointsDue) {
		fmt.Fprintf(l.out, "Nothing is due in %q. Come back later.\n", set.Name)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(l.out, "%s: %d of %d recalled. Type /help for commands.\n\n", set.Name, snap.RecalledCount, snap.TotalPoints)

	opening, err := l.orch.OpeningMessage(ctx)
	if err != nil {
		return err
	}
	l.tutor(opening)

	sc := bufio.NewScanner(l.in)
	for {
		fmt.Fprint(l.out, "> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		done, err := l.handle(ctx, line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	fmt.Fprintln(l.out)
	return l.leave(ctx)
}

// handle runs one input line and reports whether the loop should end.
func (l *studyLoop) handle(ctx context.Context, line string) (bool, error) {
	var (
		res orchestrator.TurnResult
		err error
	)
	switch line {
	case "/help":
		fmt.Fprintln(l.out, studyHelp)
		return false, nil
	case "/quit":
		return true, l.leave(ctx)
	case "/status":
		l.status()
		return false, nil
	case "/done":
		res, err = l.orch.TriggerEvaluation(ctx, true)
	case "/enter":
		snap := l.orch.SessionState()
		if snap == nil || snap.PendingSuggestion == nil {
			fmt.Fprintln(l.out, "No tangent is suggested right now.")
			return false, nil
		}
		err = l.orch.EnterTangent(ctx, snap.PendingSuggestion.EventID, snap.PendingSuggestion.Topic)
		if err == nil {
			fmt.Fprintf(l.out, "Exploring %q. /exit returns to the current point.\n", snap.PendingSuggestion.Topic)
		}
	case "/decline":
		err = l.orch.DeclineTangent(ctx)
	case "/exit":
		err = l.orch.ExitTangent(ctx)
		if err == nil {
			fmt.Fprintln(l.out, "Back to the current point.")
		}
	default:
		if strings.HasPrefix(line, "/") {
			fmt.Fprintf(l.out, "Unknown command %s. Type /help for commands.\n", line)
			return false, nil
		}
		res, err = l.orch.ProcessUserMessage(ctx, line)
	}

	switch {
	case errors.Is(err, orchestrator.ErrNoTangent):
		fmt.Fprintln(l.out, "No tangent to act on.")
		return false, nil
	case errors.Is(err, orchestrator.ErrSessionClosed):
		fmt.Fprintln(l.out, "This session has ended.")
		return true, nil
	case err != nil:
		return false, err
	}
	l.turn(res)
	return false, nil
}

func (l *studyLoop) turn(res orchestrator.TurnResult) {
	if res.Response != "" {
		l.tutor(res.Response)
	}
	if n := len(res.RecalledThisTurn); n > 0 {
		fmt.Fprintf(l.out, "[%d of %d recalled]\n", res.RecalledCount, res.TotalPoints)
	}
	if res.Suggestion != nil {
		fmt.Fprintf(l.out, "Tangent: %q. /enter to explore it, /decline to stay.\n", res.Suggestion.Topic)
	}
	if res.Complete {
		fmt.Fprintln(l.out, "Every point is recalled. Keep chatting, or /quit to finish.")
	}
}

func (l *studyLoop) tutor(text string) {
	fmt.Fprint(l.out, l.render(text))
}

func (l *studyLoop) status() {
	snap := l.orch.SessionState()
	if snap == nil {
		fmt.Fprintln(l.out, "No active session.")
		return
	}
	fmt.Fprintf(l.out, "%d of %d recalled, %d messages", snap.RecalledCount, snap.TotalPoints, snap.MessageCount)
	if snap.InTangent {
		fmt.Fprintf(l.out, ", exploring %q", snap.TangentTopic)
	}
	fmt.Fprintln(l.out)
}

// leave finalizes a finished session and pauses any other.
func (l *studyLoop) leave(ctx context.Context) error {
	snap := l.orch.SessionState()
	if snap == nil {
		return nil
	}
	if !snap.CompletionPending {
		if err := l.orch.PauseSession(ctx); err != nil {
			return err
		}
		fmt.Fprintf(l.out, "Session paused at %d of %d. `clarity study` resumes it.\n", snap.RecalledCount, snap.TotalPoints)
		return nil
	}
	sum, err := l.orch.FinalizeSession(ctx)
	if err != nil {
		return err
	}
	printSummary(l.out, sum)
	return nil
}

func printSummary(w io.Writer, s model.SessionMetricsSummary) {
	fmt.Fprintf(w, "Session complete: %d of %d recalled (%.0f%%) in %s.\n",
		s.RecalledCount, s.TotalPoints, s.RecallRate*100, s.Duration.Round(time.Second))
	fmt.Fprintf(w, "Messages: %d  Tangents: %d  Tokens: %d in / %d out  Cost: $%.4f\n",
		s.TotalMessages, s.TangentCount, s.InputTokens, s.OutputTokens, s.EstimatedCostUSD)
}
