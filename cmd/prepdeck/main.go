// Prepdeck terminal client: streams interview-prep feedback for submitted
// answers and follow-up questions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prepdeck/prepdeck/internal/backend"
	"github.com/prepdeck/prepdeck/internal/config"
	"github.com/prepdeck/prepdeck/internal/domain"
	"github.com/prepdeck/prepdeck/internal/feedback"
	"github.com/prepdeck/prepdeck/internal/identity"
	"github.com/prepdeck/prepdeck/internal/journal"
	"github.com/prepdeck/prepdeck/internal/store"
)

const usage = `Usage: prepdeck -subject <id> <command> [text]

Commands:
  submit [text]   submit an answer for feedback (reads stdin when text is omitted)
  ask [text]      ask a follow-up question about the last feedback
  explain [text]  request an explanation
  history         print the conversation so far
  reset           clear the conversation and start fresh
  sync            replay locally queued messages the backend never confirmed
`

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	subject := flag.String("subject", "", "problem id the exchange is about")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if err := run(logger, *subject, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "prepdeck:", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, subject string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("a command is required")
	}
	command := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("failed to close local store", "error", closeErr)
		}
	}()

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendURL,
		Plan:    cfg.Plan,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var threads backend.Threads
	if cfg.UserID != "" {
		threads, err = backend.NewUserThreads(client, cfg.UserID)
	} else {
		var sessionID string
		sessionID, err = identity.LoadOrCreateAnon(ctx, st, logger)
		if err != nil {
			return fmt.Errorf("load anonymous identity: %w", err)
		}
		threads, err = backend.NewAnonThreads(client, sessionID)
	}
	if err != nil {
		return err
	}

	switch command {
	case "history":
		return printHistory(ctx, threads, subject)
	case "sync":
		return replayUnsynced(ctx, st, threads, logger)
	}

	fileJournal, err := journal.New(journal.Config(cfg.Journal), logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	jrnl := journal.Multi(fileJournal, store.NewQueueJournal(st, logger))
	defer func() {
		if closeErr := jrnl.Close(); closeErr != nil {
			logger.Warn("failed to close journal", "error", closeErr)
		}
	}()

	if subject == "" {
		return errors.New("-subject is required")
	}

	render := &renderer{out: os.Stdout}
	o, err := feedback.New(feedback.Config{
		Threads:  threads,
		Subject:  subject,
		Journal:  jrnl,
		OnChange: render.update,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	render.orch = o

	switch command {
	case "reset":
		if err := o.Reset(ctx); err != nil {
			return fmt.Errorf("reset conversation: %w", err)
		}
		fmt.Println("conversation cleared")
		return nil
	case "submit", "ask", "explain":
		content, err := readContent(args[1:])
		if err != nil {
			return err
		}
		return runExchange(ctx, o, command, content)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func readContent(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return "", errors.New("no content provided")
	}
	return content, nil
}

func runExchange(ctx context.Context, o *feedback.Orchestrator, command, content string) error {
	var err error
	switch command {
	case "submit":
		err = o.Submit(ctx, content)
	case "ask":
		err = o.AskQuestion(ctx, content)
	case "explain":
		err = o.RequestExplanation(ctx, content)
	}
	if err != nil {
		return err
	}
	if err := o.Wait(ctx); err != nil {
		return err
	}
	fmt.Println()

	if serr := o.LastError(); serr != nil {
		if serr.Retryable {
			return fmt.Errorf("%s (you can retry)", serr.Message)
		}
		return errors.New(serr.Message)
	}
	if cat := o.Category(); cat != domain.CategoryUnclassified {
		fmt.Println("verdict:", cat.Display().Label)
	}
	return nil
}

func printHistory(ctx context.Context, threads backend.Threads, subject string) error {
	if subject == "" {
		return errors.New("-subject is required")
	}
	_, msgs, err := threads.Resolve(ctx, subject)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("no conversation yet")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("[%s %s] %s\n", m.Role, m.Type, m.Content)
	}
	return nil
}

// replayUnsynced re-appends queued messages the backend never confirmed and
// drops them from the queue once they land.
func replayUnsynced(ctx context.Context, st store.Store, threads backend.Threads, logger *slog.Logger) error {
	queued, err := st.UnsyncedMessages(ctx, 100)
	if err != nil {
		return fmt.Errorf("list unsynced messages: %w", err)
	}
	if len(queued) == 0 {
		fmt.Println("nothing to sync")
		return nil
	}

	replayed := 0
	for _, q := range queued {
		msg := domain.Message{
			ID:        q.MessageID,
			Role:      domain.Role(q.Role),
			Type:      domain.MessageType(q.Type),
			Content:   q.Content,
			Timestamp: q.Timestamp,
		}
		if err := threads.Append(ctx, domain.ConversationID(q.ConversationID), msg); err != nil {
			logger.Warn("replay failed, message stays queued",
				"message_id", q.MessageID,
				"conversation_id", q.ConversationID,
				"error", err,
			)
			continue
		}
		if err := st.DeleteUnsynced(ctx, q.ID); err != nil {
			logger.Warn("failed to dequeue replayed message", "message_id", q.MessageID, "error", err)
			continue
		}
		replayed++
	}
	fmt.Printf("synced %d of %d queued messages\n", replayed, len(queued))
	return nil
}

// renderer prints the live feedback text as it streams, writing only the
// new suffix on each change. A snapshot that rewrites earlier text restarts
// the line.
type renderer struct {
	out  io.Writer
	orch *feedback.Orchestrator

	mu      sync.Mutex
	printed string
}

func (r *renderer) update() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.orch == nil {
		return
	}
	cur := r.orch.DisplayText()
	if cur == r.printed {
		return
	}
	if strings.HasPrefix(cur, r.printed) {
		fmt.Fprint(r.out, cur[len(r.printed):])
	} else {
		fmt.Fprint(r.out, "\n"+cur)
	}
	r.printed = cur
}
