package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	bold     = "\033[1m"
	dim      = "\033[2m"
	cyan     = "\033[96m"
	cyanBold = "\033[96m\033[1m"
	green    = "\033[92m"
	yellow   = "\033[93m"
	red      = "\033[91m"
	redBold  = "\033[91m\033[1m"
	dimText  = "\033[90m"
	white    = "\033[97m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames (Gemini CLI style)
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Config holds the terminal client's runtime options.
type Config struct {
	Addr string
}

// repl holds the connection and render state for one interactive session.
type repl struct {
	client   *Client
	renderer *Renderer
	width    int

	// Assistant text buffers until a flush point (tool dispatch, turn end,
	// errors) and then renders as one markdown block.
	turnText strings.Builder

	// Our last prompt, so its gateway echo is not printed twice.
	pendingPrompt string
	echoSeen      bool

	// Whether a turn_start arrived since we sent the prompt; a gateway error
	// before that means the prompt was rejected outright.
	sawTurn bool

	toolStarted map[string]time.Time
}

// Run connects to the gateway and drives the interactive loop until the user
// quits or the connection drops.
func Run(cfg Config) error {
	client, err := Dial(cfg.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	w := termWidth()
	wd, _ := os.Getwd()
	fmt.Println(RenderBanner(BannerInfo{
		Addr:       client.Addr(),
		Workspace:  wd,
		ProjectLng: DetectProjectLanguage(wd),
	}, w))

	// Readline for proper line editing (backspace, arrows, history)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		HistoryFile:     "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	// SIGTERM quits outright; Ctrl+C is handled per phase.
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, syscall.SIGTERM)
	go func() {
		<-termCh
		fmt.Printf("\n%s👋 bye%s\n", dimText, reset)
		rl.Close()
		client.Close()
		os.Exit(0)
	}()

	r := &repl{
		client:      client,
		renderer:    NewRenderer(w),
		width:       w,
		toolStarted: make(map[string]time.Time),
	}

	// Readline runs on its own goroutine so frames from other clients render
	// while the prompt is idle. After each line it parks until the main loop
	// is done with it; during a streaming turn the prompt stays hidden.
	type inputLine struct {
		text string
		err  error
	}
	inputCh := make(chan inputLine, 1)
	resumeCh := make(chan struct{})
	defer close(resumeCh)
	go func() {
		for {
			line, lineErr := rl.Readline()
			inputCh <- inputLine{text: line, err: lineErr}
			if _, ok := <-resumeCh; !ok {
				return
			}
		}
	}()

	frames := client.Frames()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				fmt.Println()
				return disconnectError(client)
			}
			r.renderFrame(f, nil, rl.Stdout())

		case in := <-inputCh:
			quit, err := r.handleInput(in.text, in.err, frames)
			if err != nil {
				return err
			}
			if quit {
				fmt.Printf("%s👋 bye%s\n", dimText, reset)
				return nil
			}
			resumeCh <- struct{}{}
		}
	}
}

// handleInput routes one line: local command, gateway frame, or quit. A
// prompt frame blocks until the resulting turn ends.
func (r *repl) handleInput(text string, readErr error, frames <-chan ServerFrame) (bool, error) {
	if readErr == readline.ErrInterrupt || readErr == io.EOF {
		return true, nil
	}
	if readErr != nil {
		return true, nil
	}

	res := RouteInput(text)
	if res.IsQuit {
		return true, nil
	}
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	if res.Frame == nil {
		return false, nil
	}

	if err := r.client.send(*res.Frame); err != nil {
		fmt.Printf("%s✗ %v%s\n", redBold, err, reset)
		return false, nil
	}
	if res.Frame.Type == framePrompt {
		return false, r.streamTurn(res.Frame.Message, frames)
	}
	return false, nil
}

// streamTurn renders the frames of one of our own turns: the prompt is
// parked, output goes straight to stdout, and a spinner covers the quiet
// stretches. Ctrl+C aborts the turn.
func (r *repl) streamTurn(prompt string, frames <-chan ServerFrame) error {
	r.pendingPrompt = prompt
	r.echoSeen = false
	r.sawTurn = false
	defer func() { r.pendingPrompt = "" }()

	intCh := make(chan os.Signal, 1)
	signal.Notify(intCh, syscall.SIGINT)
	defer signal.Stop(intCh)

	sp := newSpinner()
	defer sp.Stop()
	sp.Update("thinking...")

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				sp.Stop()
				fmt.Println()
				return disconnectError(r.client)
			}
			if done := r.renderFrame(f, sp, os.Stdout); done {
				return nil
			}

		case <-intCh:
			sp.Stop()
			fmt.Printf("%s⏹ aborting…%s\n", yellow, reset)
			if err := r.client.Abort(); err != nil {
				fmt.Printf("%s✗ %v%s\n", redBold, err, reset)
			}
		}
	}
}

// renderFrame renders one gateway frame. The spinner is nil when the frame
// arrives while the prompt is idle (another client's turn). The returned
// flag is true when the frame ends our own turn.
func (r *repl) renderFrame(f ServerFrame, sp *asyncSpinner, out io.Writer) bool {
	switch f.Type {
	case "user_message":
		if r.pendingPrompt != "" && !r.echoSeen && f.Message == r.pendingPrompt {
			// our own prompt, already on screen
			r.echoSeen = true
			return false
		}
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderUserEcho(f.Message))

	case "turn_start":
		r.sawTurn = true
		sp.Update("thinking...")

	case "text_delta":
		r.turnText.WriteString(f.Delta)
		sp.Update(fmt.Sprintf("writing… %s", fmtTokens(r.turnText.Len())))

	case "turn_end":
		r.flushTurnText(sp, out)
		sp.Update("thinking...")

	case "tool_start":
		r.flushTurnText(sp, out)
		sp.Stop()
		r.toolStarted[f.ToolCallID] = time.Now()
		printToolHeader(out, f.ToolName, f.Args, r.width)
		sp.Update(fmt.Sprintf("%s running...", f.ToolName))

	case "tool_update":
		sp.Update(fmt.Sprintf("%s: %s", f.ToolName, firstLine(f.PartialResult, 50)))

	case "tool_end":
		sp.Stop()
		var dur time.Duration
		if started, ok := r.toolStarted[f.ToolCallID]; ok {
			dur = time.Since(started)
			delete(r.toolStarted, f.ToolCallID)
		}
		printToolFooter(out, f.ToolName, !f.IsError, dur, r.width)

	case "compaction_start":
		sp.Update("compacting context...")

	case "compaction_end":
		sp.Stop()
		if f.Message != "" {
			fmt.Fprintf(out, "%s⚠ %s%s\n", yellow, f.Message, reset)
		} else {
			fmt.Fprintf(out, "%s✱ compacted %s tokens of history%s\n",
				dimText, fmtTokens(f.TokensBefore), reset)
		}

	case "model_info":
		r.flushTurnText(sp, out)
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderModelInfo(f.ModelInfo))

	case "context_info":
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderContextInfo(f))

	case "model_list":
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderModelList(f.Models, f.Current))

	case "model_set":
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderModelSet(f.Model))

	case "reload_start":
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderReloadStart())

	case "reload_end":
		sp.Stop()
		fmt.Fprintln(out, r.renderer.RenderReloadEnd(f.Success, f.Message))

	case "error":
		r.flushTurnText(sp, out)
		sp.Stop()
		fmt.Fprintf(out, "%s✗ %s%s\n", redBold, f.Message, reset)
		// A rejection before any turn started ends the wait.
		return !r.sawTurn

	case "agent_end":
		r.flushTurnText(sp, out)
		sp.Stop()
		return true
	}
	return false
}

// flushTurnText renders the buffered assistant text as markdown.
func (r *repl) flushTurnText(sp *asyncSpinner, out io.Writer) {
	if r.turnText.Len() == 0 {
		return
	}
	sp.Stop()
	fmt.Fprintln(out, r.renderer.RenderMarkdown(r.turnText.String()))
	r.turnText.Reset()
}

func disconnectError(c *Client) error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("connection to gateway lost: %w", err)
	}
	return fmt.Errorf("connection closed by gateway")
}

// ─── Tool Display (Gemini CLI style) ───

// printToolHeader renders: ╭─ $ tool_name summary ──────
func printToolHeader(w io.Writer, name string, args map[string]interface{}, width int) {
	icon := toolIcon(name)
	summary := summarizeToolArgs(args)

	label := fmt.Sprintf(" %s %s %s ", icon, name, summary)
	lineW := width - len([]rune(label)) - 2
	if lineW < 3 {
		lineW = 3
	}
	line := strings.Repeat("─", lineW)

	fmt.Fprintf(w, "\n%s╭─%s%s%s%s%s%s%s\n",
		dimText, reset,
		yellow, icon, reset,
		" "+cyanBold+name+reset+" "+dimText+summary,
		" "+dimText+line,
		reset)
}

// printToolFooter renders: ╰─ ✓ tool_name (duration) ──────
func printToolFooter(w io.Writer, name string, success bool, dur time.Duration, width int) {
	var statusIcon, statusColor string
	if success {
		statusIcon = "✓"
		statusColor = green
	} else {
		statusIcon = "✗"
		statusColor = red
	}

	durText := ""
	if dur > 0 {
		durText = fmt.Sprintf(" %s(%s)%s", dimText, fmtDur(dur), reset)
	}

	label := fmt.Sprintf(" %s %s%s ", statusIcon, name, durText)
	lineW := width - len([]rune(label)) - 2
	if lineW < 3 {
		lineW = 3
	}
	line := strings.Repeat("─", lineW)

	fmt.Fprintf(w, "%s╰─%s %s%s%s %s%s%s %s\n",
		dimText, reset,
		statusColor, statusIcon, reset,
		dimText, name, reset,
		durText+dimText+line+reset)
}

func toolIcon(name string) string {
	icons := map[string]string{
		"bash":       "$",
		"read":       "→",
		"write":      "←",
		"edit":       "±",
		"search_web": "◈",
	}
	if icon, ok := icons[name]; ok {
		return icon
	}
	return "⚙"
}

func summarizeToolArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	priority := []string{"command", "file_path", "path", "query", "url", "pattern"}
	for _, key := range priority {
		if v, ok := args[key]; ok {
			s := fmt.Sprintf("%v", v)
			if len(s) > 60 {
				s = s[:60] + "…"
			}
			return s
		}
	}
	for _, v := range args {
		s := fmt.Sprintf("%v", v)
		if len(s) > 60 {
			s = s[:60] + "…"
		}
		return s
	}
	return ""
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

// Update sets the spinner text, starting the animation if needed. A nil
// spinner (idle rendering) is a no-op.
func (s *asyncSpinner) Update(msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Print(clearLn) // Clear spinner line
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Printf("%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func firstLine(s string, maxLen int) string {
	first := strings.SplitN(s, "\n", 2)[0]
	r := []rune(first)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "…"
	}
	return first
}

func fmtTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000.0)
	}
	return fmt.Sprintf("%d", n)
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
