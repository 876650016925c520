package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Cyclone1070/iav/internal/availability"
	"github.com/Cyclone1070/iav/internal/confirmation"
	"github.com/Cyclone1070/iav/internal/fallback"
	"github.com/Cyclone1070/iav/internal/tool"
	"github.com/Cyclone1070/iav/internal/workflow"
	"github.com/charmbracelet/glamour"
)

// terminal is a line-oriented front end. Prompts are serialized so
// concurrent approvals are asked one at a time.
type terminal struct {
	promptMu sync.Mutex
	in       *bufio.Reader

	outMu    sync.Mutex
	out      io.Writer
	markdown *glamour.TermRenderer // nil prints text as is

	idle chan struct{}
}

func newTerminal(in io.Reader, out io.Writer, markdown *glamour.TermRenderer) *terminal {
	return &terminal{
		in:       bufio.NewReader(in),
		out:      out,
		markdown: markdown,
		idle:     make(chan struct{}, 1),
	}
}

func (t *terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

// readLine prints prompt and returns the trimmed reply.
func (t *terminal) readLine(prompt string) (string, error) {
	t.promptMu.Lock()
	defer t.promptMu.Unlock()

	t.printf("%s", prompt)
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t *terminal) ask(prompt string) (string, error) {
	answer, err := t.readLine(prompt)
	return strings.ToLower(answer), err
}

func (t *terminal) readGoal(ctx context.Context, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.readLine(promptStyle.Render(fmt.Sprintf("[%s] >", model)) + " ")
}

// approveOn answers tool confirmation requests published on bus.
func (t *terminal) approveOn(bus *confirmation.Bus) *confirmation.Subscription {
	return bus.Subscribe(confirmation.TypeToolConfirmationRequest, func(ctx context.Context, msg confirmation.Message) {
		req, ok := msg.(confirmation.ToolConfirmationRequest)
		if !ok {
			return
		}

		title, prompt := req.Call.Name, ""
		if req.Details != nil {
			if req.Details.Title != "" {
				title = req.Details.Title
			}
			prompt = req.Details.Prompt
			if req.Details.Display != nil {
				prompt += "\n" + renderDisplay(req.Details.Display)
			}
		}
		answer, err := t.ask(fmt.Sprintf("\n%s\n%s\nAllow? [y]es / [a]lways / [s]ave / [n]o: ", promptStyle.Render(title), prompt))

		resp := confirmation.ToolConfirmationResponse{ID: req.ID, Outcome: tool.OutcomeCancel}
		if err == nil {
			resp = approvalFor(req.ID, answer)
		}
		bus.Publish(ctx, resp)
	})
}

func approvalFor(id, answer string) confirmation.ToolConfirmationResponse {
	switch answer {
	case "y", "yes":
		return confirmation.ToolConfirmationResponse{ID: id, Confirmed: true, Outcome: tool.OutcomeProceedOnce}
	case "a", "always":
		return confirmation.ToolConfirmationResponse{ID: id, Confirmed: true, Outcome: tool.OutcomeProceedAlways}
	case "s", "save":
		return confirmation.ToolConfirmationResponse{ID: id, Confirmed: true, Outcome: tool.OutcomeProceedAlwaysAndSave}
	default:
		return confirmation.ToolConfirmationResponse{ID: id, Outcome: tool.OutcomeCancel}
	}
}

// chooseFallback implements fallback.Handler. Silent policies take the
// default intent without asking.
func (t *terminal) chooseFallback(_ context.Context, failed string, rec fallback.Recommendation, cause error) (fallback.Intent, error) {
	if rec.Action == availability.ActionSilent {
		return "", nil
	}

	answer, err := t.ask(fmt.Sprintf("\nModel %s failed: %v\nSwitch to %s? [o]nce / [t]his turn / [a]lways / [s]top: ", failed, cause, rec.Selected))
	if err != nil {
		return "", err
	}
	return intentFor(answer), nil
}

func intentFor(answer string) fallback.Intent {
	switch answer {
	case "o", "once":
		return fallback.IntentRetryOnce
	case "t", "turn":
		return fallback.IntentRetry
	case "a", "always":
		return fallback.IntentRetryAlways
	default:
		return fallback.IntentStop
	}
}

// render prints events until the channel is closed.
func (t *terminal) render(events <-chan workflow.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case workflow.ThinkingEvent:
			t.printf("%s\n", thinkingStyle.Render("thinking..."))
		case workflow.ModelEvent:
			if e.Source != "default" {
				t.printf("%s\n", modelStyle.Render(fmt.Sprintf("(switched to %s: %s)", e.Model, e.Reasoning)))
			}
		case workflow.TextEvent:
			t.printf("%s\n", renderMarkdown(t.markdown, e.Text))
		case workflow.ToolStartEvent:
			t.printf("%s %s\n", toolStyle.Render("-> "+e.ToolName), e.RequestDisplay)
		case workflow.ToolEndEvent:
			t.printf("<- %s %s %s\n", e.ToolName, statusStyle(e.Status).Render("["+e.Status+"]"), renderDisplay(e.Display))
		case workflow.DoneEvent:
			select {
			case t.idle <- struct{}{}:
			default:
			}
		}
		// ToolAwaitingApprovalEvent needs no output; the approver prompts.
	}
}

// waitIdle blocks until the renderer has printed the last turn.
func (t *terminal) waitIdle() {
	<-t.idle
}

func renderDisplay(d tool.ToolDisplay) string {
	switch v := d.(type) {
	case nil:
		return ""
	case tool.StringDisplay:
		return string(v)
	case tool.ListDisplay:
		var b strings.Builder
		b.WriteString(v.Title)
		for _, item := range v.Items {
			b.WriteString("\n  ")
			b.WriteString(item)
		}
		return b.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
