package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/consult/stream"
	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

// REPL commands.
const (
	cmdQuit   = "/quit"
	cmdNew    = "/new"
	cmdAdvice = "/advice"
	cmdCount  = "/count"
	cmdHelp   = "/help"
)

var (
	chatSession string
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a consultation in the terminal",
	Long: `Run a consultation in-process against the configured models and
session store. Type /help for commands.`,
	Example: `  # Start a new consultation
  medconsult chat

  # Continue an earlier one
  medconsult chat --session 3f0c...`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session ID to continue (default: a new session)")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "also write logs to stderr")
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logs would interleave with the conversation; they go to log.file
	// unless asked for.
	logOut := io.Discard
	if chatVerbose {
		logOut = os.Stderr
	}
	a, err := newApp(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	id := chatSession
	if id == "" {
		id = consult.NewSessionID()
	}
	r := &repl{
		engine:  a.engine,
		session: id,
		in:      bufio.NewScanner(cmd.InOrStdin()),
		out:     cmd.OutOrStdout(),
		logger:  a.slog,
	}
	return r.run(ctx)
}

// chatEngine is the consultation surface the REPL drives.
type chatEngine interface {
	Run(ctx context.Context, sessionID, userText string, skipToAdvice bool) iter.Seq2[flowgraph.Event[consult.Update], error]
	ResumeStream(ctx context.Context, sessionID, edited string) iter.Seq2[flowgraph.Event[consult.Update], error]
	GetQuestionCount(ctx context.Context, sessionID string) int
	PendingReview(ctx context.Context, sessionID string) (consult.ReviewRequest, bool, error)
	Welcome() string
}

type repl struct {
	engine  chatEngine
	session string
	skip    bool
	in      *bufio.Scanner
	out     io.Writer
	logger  *slog.Logger
}

// run reads turns until /quit, end of input or cancellation.
func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "Session %s\n\n%s\n", r.session, r.engine.Welcome())

	// A session suspended at review in an earlier run resumes there.
	review, pending, err := r.engine.PendingReview(ctx, r.session)
	if err != nil {
		return err
	}
	if pending {
		if !r.review(ctx, review) {
			return r.in.Err()
		}
	}

	for ctx.Err() == nil {
		line, ok := r.prompt("> ")
		if !ok {
			return r.in.Err()
		}

		switch strings.TrimSpace(line) {
		case cmdQuit:
			return nil
		case cmdHelp:
			r.help()
			continue
		case cmdNew:
			r.session = consult.NewSessionID()
			r.skip = false
			fmt.Fprintf(r.out, "Session %s\n\n%s\n", r.session, r.engine.Welcome())
			continue
		case cmdAdvice:
			r.skip = !r.skip
			fmt.Fprintf(r.out, "Skip to advice: %t\n", r.skip)
			continue
		case cmdCount:
			fmt.Fprintf(r.out, "Questions asked: %d\n", r.engine.GetQuestionCount(ctx, r.session))
			continue
		case "":
			if !r.skip {
				continue
			}
		}

		review, pending := r.render(r.engine.Run(ctx, r.session, line, r.skip))
		if pending && !r.review(ctx, review) {
			return r.in.Err()
		}
	}
	return nil
}

// review shows the drafted summary and resumes with the patient's answer.
// A blank answer keeps the draft. It reports false at end of input.
func (r *repl) review(ctx context.Context, req consult.ReviewRequest) bool {
	for {
		fmt.Fprintf(r.out, "\n%s\n\n%s\n\n", req.Instruction, req.Summary)
		edited, ok := r.prompt("summary> ")
		if !ok {
			return false
		}
		next, pending := r.render(r.engine.ResumeStream(ctx, r.session, edited))
		if !pending {
			return true
		}
		req = next
	}
}

// render prints a turn and returns the review request it suspended on.
func (r *repl) render(events iter.Seq2[flowgraph.Event[consult.Update], error]) (consult.ReviewRequest, bool) {
	var (
		review  consult.ReviewRequest
		pending bool
	)
	fragments := stream.Adapt(events, stream.WithLogger(r.logger), stream.WithSessionID(r.session))
	for f := range fragments {
		switch f.Kind {
		case stream.KindText, stream.KindError:
			fmt.Fprintf(r.out, "\n%s\n", f.Text)
		case stream.KindInterrupt:
			if f.Review != nil {
				review, pending = *f.Review, true
			}
		}
	}
	fmt.Fprintln(r.out)
	return review, pending
}

func (r *repl) prompt(p string) (string, bool) {
	fmt.Fprint(r.out, p)
	if !r.in.Scan() {
		return "", false
	}
	return r.in.Text(), true
}

func (r *repl) help() {
	fmt.Fprintf(r.out, `Commands:
  %-8s toggle skipping straight to advice (now %t)
  %-8s start a new session
  %-8s show how many questions were asked
  %-8s exit
`, cmdAdvice, r.skip, cmdNew, cmdCount, cmdQuit)
}
