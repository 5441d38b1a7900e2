package agent

import (
	"strings"

	"github.com/tidwall/gjson"

	"agent-relay/internal/domain/model"
)

// StreamResult is what ParseStreamJSON extracts from a run.
type StreamResult struct {
	Text              string
	Thinking          string
	ToolCalls         []model.ToolCall
	AssistantMessages []string
}

// ParseStreamJSON reads line-delimited events from --output-format
// stream-json. The final result/success event wins over the joined
// assistant text blocks. Malformed lines are skipped; ok is false when no
// line was a JSON object.
func ParseStreamJSON(raw string) (StreamResult, bool) {
	var (
		res         StreamResult
		thinking    []string
		final       string
		sawEvent    bool
		sawThinking bool
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !gjson.Valid(line) {
			continue
		}
		ev := gjson.Parse(line)
		if !ev.IsObject() {
			continue
		}
		sawEvent = true
		subtype := ev.Get("subtype").String()

		switch ev.Get("type").String() {
		case "thinking":
			text := ev.Get("text").String()
			switch {
			case subtype == "delta" && text != "":
				thinking = append(thinking, text)
				sawThinking = true
			case subtype == "completed" && text != "" && !sawThinking:
				thinking = []string{text}
				sawThinking = true
			}
		case "tool_call":
			if subtype != "completed" {
				continue
			}
			if tc, ok := shellToolCall(ev.Get("tool_call.shellToolCall")); ok {
				res.ToolCalls = append(res.ToolCalls, tc)
			}
		case "assistant":
			ev.Get("message.content").ForEach(func(_, item gjson.Result) bool {
				if item.Get("type").String() == "text" {
					if t := item.Get("text").String(); t != "" {
						res.AssistantMessages = append(res.AssistantMessages, t)
					}
				}
				return true
			})
		case "result":
			if subtype == "success" {
				final = ev.Get("result").String()
			}
		}
	}
	if !sawEvent {
		return StreamResult{}, false
	}
	res.Thinking = strings.Join(thinking, "")
	res.Text = strings.TrimSpace(final)
	if res.Text == "" && len(res.AssistantMessages) > 0 {
		res.Text = strings.TrimSpace(strings.Join(res.AssistantMessages, "\n\n"))
	}
	return res, true
}

func shellToolCall(shell gjson.Result) (model.ToolCall, bool) {
	if !shell.Exists() || !shell.IsObject() {
		return model.ToolCall{}, false
	}
	command := shell.Get("args.command").String()
	tc := model.ToolCall{
		Name:    "run_terminal_cmd",
		Command: command,
		Arguments: map[string]any{
			"command":           command,
			"working_directory": shell.Get("args.workingDirectory").String(),
		},
	}
	if ok := shell.Get("result.success"); ok.Exists() {
		if code := ok.Get("exitCode"); code.Exists() {
			c := int(code.Int())
			tc.ExitCode = &c
		}
		tc.Stdout = ok.Get("stdout").String()
		tc.Stderr = ok.Get("stderr").String()
	}
	return tc, true
}
