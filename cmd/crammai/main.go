// Command crammai is a terminal front end for the CrammAI study core:
// upload course materials, generate a prioritized study plan, drill topics
// with notes, mnemonics and adaptive quizzes, and talk to the voice tutor.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/kareemblessed/CrammAI/internal/dotenv"
	"github.com/kareemblessed/CrammAI/pkg/app"
	"github.com/kareemblessed/CrammAI/pkg/archive"
	"github.com/kareemblessed/CrammAI/pkg/core/types"
	"github.com/kareemblessed/CrammAI/pkg/studio"
	"github.com/kareemblessed/CrammAI/pkg/voice"
	"github.com/kareemblessed/CrammAI/pkg/voice/protocol"
)

type options struct {
	apiKey     string
	model      string
	liveURL    string
	archiveDSN string
	micCmd     string
	micDevice  int
	ffplayPath string
	volume     int
	debug      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := dotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	var opt options
	flag.StringVar(&opt.apiKey, "api-key", os.Getenv("GEMINI_API_KEY"), "Gemini API key (also reads GEMINI_API_KEY)")
	flag.StringVar(&opt.model, "model", os.Getenv("CRAMMAI_MODEL"), "generation model (default gemini-2.5-flash)")
	flag.StringVar(&opt.liveURL, "live-url", os.Getenv("CRAMMAI_LIVE_URL"), "voice tutor websocket endpoint")
	flag.StringVar(&opt.archiveDSN, "archive-dsn", os.Getenv("CRAMMAI_ARCHIVE_DSN"), "Postgres DSN for the study archive (optional)")
	flag.StringVar(&opt.micCmd, "mic-cmd", "", "override mic capture command (runs via /bin/sh -lc)")
	flag.IntVar(&opt.micDevice, "mic-device", 0, "macOS avfoundation mic device index")
	flag.StringVar(&opt.ffplayPath, "ffplay-path", "ffplay", "path to ffplay for tutor playback")
	flag.IntVar(&opt.volume, "speaker-volume", 80, "ffplay volume, 0 to 100")
	flag.BoolVar(&opt.debug, "debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if opt.apiKey == "" {
		fmt.Fprintln(os.Stderr, "an API key is required; set GEMINI_API_KEY or pass -api-key")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gemini, err := studio.NewGemini(ctx, studio.GeminiConfig{
		APIKey: opt.apiKey,
		Model:  opt.model,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "studio:", err)
		return 1
	}

	cfg := app.Config{
		Plans:     gemini,
		Notes:     gemini,
		Quizzes:   gemini,
		Summaries: gemini,
		Mnemonics: gemini,
		Logger:    logger,
	}
	if opt.archiveDSN != "" {
		store, err := archive.Open(ctx, opt.archiveDSN, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, "archive:", err)
			return 1
		}
		defer store.Close()
		cfg.Recorder = store
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer a.WaitBackground()

	cli := &console{app: a, opt: opt, logger: logger, out: os.Stdout}
	cli.loop(ctx)
	cli.stopTutor()
	return 0
}

// console is the interactive command loop. One tutor session may run at a
// time; it is torn down on back navigation, reset, quit, or a new session.
type console struct {
	app    *app.App
	opt    options
	logger *slog.Logger
	out    *os.File

	tutor *voice.Session
}

func (c *console) loop(ctx context.Context) {
	fmt.Fprintln(c.out, `CrammAI. Type "help" for commands.`)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprintf(c.out, "[%s] > ", c.app.View())
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch cmd {
		case "help":
			c.printHelp()
		case "mode":
			err = c.app.SelectMode(types.Mode(rest))
		case "attach":
			err = c.attach(rest)
		case "remove":
			err = c.remove(rest)
		case "files":
			c.printFiles()
		case "plan":
			err = c.plan(ctx)
		case "topics":
			c.printTopics()
		case "open":
			err = c.open(rest)
		case "notes":
			c.printNotes()
		case "mnemonic":
			err = c.mnemonic(ctx)
		case "ask":
			err = c.ask(ctx, rest)
		case "quiz":
			err = c.quiz(ctx, rest)
		case "answer":
			err = c.answer(rest)
		case "summary":
			c.printSummary()
		case "tutor":
			err = c.tutorCmd(ctx, rest)
		case "transcript":
			c.printTranscript()
		case "back":
			err = c.app.BackToResults()
		case "reset":
			c.app.Reset()
		case "quit", "exit":
			return
		default:
			fmt.Fprintf(c.out, "unknown command %q; try help\n", cmd)
		}
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `commands:
  mode <calm|warn|zoom>     choose urgency and move to upload
  attach <slot> <path>      put a file into an upload slot (0-2)
  remove <slot>             empty an upload slot
  files                     list attached files
  plan                      generate the study plan
  topics                    list topics and notes status
  open <topic>              open a topic's notes
  notes                     show the open topic's notes
  mnemonic                  generate a mnemonic for the open topic
  ask <question>            ask the document chat
  quiz <topic>              start a quiz on a topic
  answer <1-4>              answer the current question
  summary                   show the quiz summary
  tutor <start|stop>        voice tutor for the open topic
  transcript                show the tutor transcript
  back                      return to the results view
  reset                     start over
  quit                      exit
`)
}

func (c *console) attach(rest string) error {
	slotArg, path, _ := strings.Cut(rest, " ")
	slot, err := strconv.Atoi(slotArg)
	if err != nil {
		return fmt.Errorf("usage: attach <slot> <path>")
	}
	path = strings.TrimSpace(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if base, _, splitErr := mime.ParseMediaType(mimeType); splitErr == nil {
		mimeType = base
	}
	return c.app.AttachFile(slot, types.SourceFile{
		Name:     filepath.Base(path),
		Size:     int64(len(data)),
		MIMEType: mimeType,
		Data:     data,
	})
}

func (c *console) remove(rest string) error {
	slot, err := strconv.Atoi(rest)
	if err != nil {
		return fmt.Errorf("usage: remove <slot>")
	}
	return c.app.RemoveFile(slot)
}

func (c *console) printFiles() {
	files := c.app.Files()
	if len(files) == 0 {
		fmt.Fprintln(c.out, "no files attached")
		return
	}
	for _, f := range files {
		fmt.Fprintf(c.out, "  %s (%s, %d bytes)\n", f.Name, f.MIMEType, f.Size)
	}
}

func (c *console) plan(ctx context.Context) error {
	fmt.Fprintln(c.out, "generating study plan...")
	if err := c.app.GeneratePlan(ctx); err != nil {
		return err
	}
	c.printTopics()
	return nil
}

func (c *console) printTopics() {
	topics := c.app.Topics()
	if len(topics) == 0 {
		fmt.Fprintln(c.out, "no plan yet")
		return
	}
	for i, t := range topics {
		fmt.Fprintf(c.out, "%d. %s [notes: %s]\n   %s\n", i+1, t.Name, t.NotesState, t.Rationale)
	}
}

func (c *console) open(name string) error {
	if err := c.app.OpenTopic(name); err != nil {
		return err
	}
	c.printNotes()
	return nil
}

func (c *console) printNotes() {
	topic, ok := c.app.CurrentTopic()
	if !ok {
		fmt.Fprintln(c.out, "no topic open")
		return
	}
	fmt.Fprintf(c.out, "## %s\n%s\n", topic.Name, topic.Notes)
	if topic.Mnemonic != nil {
		printMnemonic(c.out, topic.Mnemonic)
	}
}

func (c *console) mnemonic(ctx context.Context) error {
	m, err := c.app.GenerateMnemonic(ctx)
	if err != nil {
		return err
	}
	printMnemonic(c.out, m)
	return nil
}

func printMnemonic(out *os.File, m *types.Mnemonic) {
	fmt.Fprintf(out, "mnemonic: %s\n", m.Word)
	for _, mapping := range m.Mappings {
		fmt.Fprintf(out, "  %s - %s\n", mapping.Letter, mapping.Meaning)
	}
}

func (c *console) ask(ctx context.Context, question string) error {
	if question == "" {
		return fmt.Errorf("usage: ask <question>")
	}
	reply, err := c.app.AskChat(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, reply)
	return nil
}

func (c *console) quiz(ctx context.Context, topic string) error {
	if err := c.app.StartQuiz(ctx, topic); err != nil {
		return err
	}
	c.printQuestion()
	return nil
}

func (c *console) printQuestion() {
	quiz, ok := c.app.Quiz()
	if !ok || quiz.Index >= len(quiz.Questions) {
		return
	}
	q := quiz.Questions[quiz.Index]
	fmt.Fprintf(c.out, "Q%d. %s\n", quiz.Index+1, q.Prompt)
	for i, option := range q.Options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, option)
	}
}

func (c *console) answer(rest string) error {
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || n > types.QuizOptionCount {
		return fmt.Errorf("usage: answer <1-%d>", types.QuizOptionCount)
	}
	result, err := c.app.Answer(n - 1)
	if err != nil {
		return err
	}
	if result.Correct {
		fmt.Fprintln(c.out, "correct!")
	} else {
		fmt.Fprintf(c.out, "wrong; the answer was %q\n", result.Answer)
	}
	if result.Explanation != "" {
		fmt.Fprintln(c.out, result.Explanation)
	}
	switch c.app.View() {
	case app.ViewLoading:
		fmt.Fprintln(c.out, "picking your next questions...")
	case app.ViewQuizSummary:
		c.printSummary()
	default:
		c.printQuestion()
	}
	return nil
}

func (c *console) printSummary() {
	quiz, ok := c.app.Quiz()
	if !ok || !quiz.Finalized {
		fmt.Fprintln(c.out, "no finished quiz")
		return
	}
	fmt.Fprintf(c.out, "score: %d/%d\n", quiz.Score, len(quiz.Questions))
	if quiz.Feedback != "" {
		fmt.Fprintln(c.out, quiz.Feedback)
	}
	for _, q := range quiz.Missed() {
		fmt.Fprintf(c.out, "  missed: %s (answer: %s)\n", q.Prompt, q.Options[q.Answer])
	}
}

func (c *console) tutorCmd(ctx context.Context, action string) error {
	switch action {
	case "start":
		return c.startTutor(ctx)
	case "stop":
		c.stopTutor()
		return nil
	default:
		return fmt.Errorf("usage: tutor <start|stop>")
	}
}

func (c *console) startTutor(ctx context.Context) error {
	if c.opt.liveURL == "" {
		return fmt.Errorf("no tutor endpoint; set CRAMMAI_LIVE_URL or pass -live-url")
	}
	topic, ok := c.app.CurrentTopic()
	if !ok {
		return fmt.Errorf("open a topic first")
	}

	output := newFFPlayOutput(c.opt.ffplayPath, c.opt.volume)
	if err := output.Start(); err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.opt.apiKey)

	session, err := voice.NewSession(voice.SessionConfig{
		Topic:      topic,
		Transport:  &voice.WebsocketTransport{URL: c.opt.liveURL, Header: header, Logger: c.logger},
		Microphone: newExecMicrophone(c.opt.micCmd, c.opt.micDevice),
		Output:     output,
		Logger:     c.logger,
	})
	if err != nil {
		output.Close()
		return err
	}
	if err := c.app.MountTutor(func() {
		session.Close()
		output.Close()
	}); err != nil {
		output.Close()
		return err
	}
	if err := session.Start(ctx); err != nil {
		c.app.UnmountTutor()
		return err
	}
	c.tutor = session
	fmt.Fprintf(c.out, "tutor session started for %q at %d Hz in, %d Hz out\n",
		topic.Name, protocol.InputSampleRateHz, protocol.OutputSampleRateHz)
	return nil
}

func (c *console) stopTutor() {
	c.app.UnmountTutor()
	c.tutor = nil
}

func (c *console) printTranscript() {
	if c.tutor == nil {
		fmt.Fprintln(c.out, "no tutor session")
		return
	}
	for _, msg := range c.tutor.Messages() {
		fmt.Fprintf(c.out, "[%s] %s\n", msg.Role, msg.Text)
	}
}
