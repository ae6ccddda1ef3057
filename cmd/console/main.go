// Package main is the operator console: a terminal client that follows a
// task's live event stream and drives review and checkpoint decisions.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jarvis-labs/operator-console/internal/api"
	"github.com/jarvis-labs/operator-console/internal/config"
	"github.com/jarvis-labs/operator-console/internal/model"
	"github.com/jarvis-labs/operator-console/internal/session"
	"github.com/jarvis-labs/operator-console/internal/stream"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/tracing"
)

func main() {
	var (
		taskID = flag.String("task", "", "existing task ID to attach to")
		prompt = flag.String("prompt", "", "create a new task with this prompt")
		agent  = flag.String("agent", "", "agent for a new task")
	)
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "console", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to init tracing", "error", err)
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	client := api.New(api.Options{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.HTTPTimeout,
		Logger:  log,
	})

	if cfg.APIToken == "" {
		if _, err := client.MintDevToken(ctx, cfg.UserID); err != nil {
			fmt.Fprintf(os.Stderr, "no API token and dev mint failed: %v\n", err)
			os.Exit(1)
		}
	}

	task, created, err := resolveTask(ctx, client, cfg, *taskID, *prompt, *agent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("task %s [%s] %s\n", task.ID, task.Status, task.Description)

	transport := stream.NewSSETransport(log)
	transport.Header = client.StreamHeader()

	sess := session.New(session.Options{
		Transport:     transport,
		StreamURL:     client.StreamURL,
		History:       client,
		Logger:        log,
		MaxReconnects: cfg.MaxReconnects,
	})
	sess.Select(ctx, task)
	if created {
		// A freshly started task is still queued; attach the stream now
		// rather than waiting for it to report running.
		sess.Connect(task.ID)
	}

	commands := readCommands(ctx)
	render := newRenderer(os.Stdout)

	for {
		select {
		case <-ctx.Done():
			sess.Disconnect()
			return

		case <-sess.Updates():
			render.apply(sess.Snapshot())

		case line, ok := <-commands:
			if !ok {
				sess.Disconnect()
				return
			}
			if done := dispatch(ctx, client, sess, task.ID, line); done {
				sess.Disconnect()
				return
			}
			render.apply(sess.Snapshot())
		}
	}
}

// resolveTask attaches to an existing task or creates and runs a new one.
// created reports whether this invocation started the task.
func resolveTask(ctx context.Context, client *api.Client, cfg *config.Config, taskID, prompt, agent string) (*model.Task, bool, error) {
	if taskID != "" {
		task, err := client.Task(ctx, taskID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch task %s: %w", taskID, err)
		}
		return task, false, nil
	}

	if prompt == "" {
		return nil, false, fmt.Errorf("either -task or -prompt is required")
	}
	if agent == "" {
		agent = cfg.DefaultAgent
	}

	task, err := client.CreateTask(ctx, &model.CreateTaskRequest{
		Description: prompt,
		AgentName:   agent,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create task: %w", err)
	}
	if _, err := client.RunTask(ctx, task.ID); err != nil {
		return nil, false, fmt.Errorf("failed to start task: %w", err)
	}
	task.Status = model.StatusQueued
	return task, true, nil
}

// dispatch executes one console command. Returns true to exit.
func dispatch(ctx context.Context, client *api.Client, sess *session.Session, taskID, line string) bool {
	verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "":
		return false

	case "quit", "exit":
		return true

	case "approve", "reject":
		action := model.ReviewApprove
		if verb == "reject" {
			action = model.ReviewReject
		}
		if rest != "" {
			sess.AddUserMessage(rest)
		}
		resp, err := client.ReviewTask(ctx, taskID, &model.ReviewRequest{Action: action, Feedback: rest})
		if err != nil {
			fmt.Printf("! review failed: %v\n", err)
			return false
		}
		sess.SetStatus(resp.NewStatus)
		fmt.Printf("* %s\n", resp.Message)
		if resp.NewStatus == model.StatusRunning {
			sess.Connect(taskID)
		}

	case "yes", "no":
		approved := verb == "yes"
		if rest != "" {
			sess.AddUserMessage(rest)
		}
		resp, err := client.RespondHITL(ctx, taskID, &model.HITLRequest{Approved: approved, Message: rest})
		if err != nil {
			fmt.Printf("! checkpoint response failed: %v\n", err)
			return false
		}
		sess.SetStatus(resp.NewStatus)

	case "archive":
		resp, err := client.ArchiveTask(ctx, taskID, &model.ArchiveRequest{CustomSummary: rest})
		if err != nil {
			fmt.Printf("! archive failed: %v\n", err)
			return false
		}
		sess.SetStatus(model.StatusArchived)
		fmt.Printf("* archived: %s\n", resp.ArchiveSummary)

	case "reconnect":
		sess.Connect(taskID)

	case "help":
		fmt.Println("commands: approve [feedback] | reject <feedback> | yes [note] | no [note] | archive [summary] | reconnect | quit")

	default:
		fmt.Printf("! unknown command %q (try help)\n", verb)
	}
	return false
}

// readCommands feeds stdin lines to the main loop.
func readCommands(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// renderer prints timeline entries as they appear and connection state as
// it changes.
type renderer struct {
	out      *os.File
	printed  int
	lastLine string
}

func newRenderer(out *os.File) *renderer {
	return &renderer{out: out}
}

func (r *renderer) apply(snap session.Snapshot) {
	for _, entry := range snap.Timeline[r.printed:] {
		fmt.Fprintln(r.out, formatEntry(entry))
	}
	r.printed = len(snap.Timeline)

	line := statusLine(snap)
	if line != r.lastLine {
		fmt.Fprintln(r.out, line)
		r.lastLine = line
	}
}

func formatEntry(entry model.TimelineEntry) string {
	switch entry.Kind {
	case model.EntryUser:
		return fmt.Sprintf("> %s", entry.Text)
	case model.EntryThought:
		return fmt.Sprintf("  (%s thinks) %s", entry.Agent, entry.Text)
	case model.EntryToolCall:
		return fmt.Sprintf("  [tool] %s", entry.Text)
	case model.EntryToolResult:
		mark := "ok"
		if !entry.ToolSuccess {
			mark = "failed"
		}
		return fmt.Sprintf("  [tool %s] %s", mark, entry.Text)
	case model.EntryStatus:
		if entry.HITLQuestion != "" {
			return fmt.Sprintf("-- %s\n?? %s (yes/no)", entry.Text, entry.HITLQuestion)
		}
		return fmt.Sprintf("-- %s", entry.Text)
	case model.EntryError:
		return fmt.Sprintf("!! %s", entry.Text)
	case model.EntryReviewFeedback:
		return fmt.Sprintf("> (feedback) %s", entry.Text)
	default:
		return fmt.Sprintf("%s: %s", entry.Agent, entry.Text)
	}
}

func statusLine(snap session.Snapshot) string {
	var b strings.Builder
	switch {
	case snap.Connected:
		b.WriteString("[connected]")
	case snap.Connecting:
		b.WriteString("[connecting]")
	default:
		b.WriteString("[disconnected]")
	}
	if snap.Status != "" {
		fmt.Fprintf(&b, " status=%s", snap.Status)
		switch {
		case snap.Status.Interactive():
			b.WriteString(" (awaiting your input)")
		case snap.Status.Terminal():
			b.WriteString(" (finished)")
		}
	}
	if snap.Tokens != nil {
		fmt.Fprintf(&b, " tokens=%d cost=$%.4f", snap.Tokens.CumulativeTokens, snap.Tokens.CumulativeCost)
	}
	if snap.LastError != "" {
		fmt.Fprintf(&b, " (%s)", snap.LastError)
	}
	return b.String()
}
