package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avolokh/taskmind/internal/reasoning"
)

// Sender interfaces are the external boundary: implementations live outside
// this subsystem (SMTP relay, notes backend, calendar sync, SMS gateway).

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

type NoteSink interface {
	AppendNote(ctx context.Context, title, content string) error
}

type CalendarWriter interface {
	CreateEvent(ctx context.Context, title string, start, end time.Time, location string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type emailTool struct{ sender EmailSender }

func NewEmailTool(s EmailSender) Tool { return &emailTool{sender: s} }

func (t *emailTool) Spec() reasoning.ToolSpec {
	return reasoning.ToolSpec{
		Name:        "email.send",
		Description: "Send an email on behalf of the task owner.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "string", "description": "Recipient address"},
				"subject": map[string]any{"type": "string"},
				"body":    map[string]any{"type": "string"},
			},
			"required": []string{"to", "subject", "body"},
		},
	}
}

func (t *emailTool) Invoke(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := decodeParams(params, &args); err != nil {
		return &Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
	}
	if args.To == "" || args.Subject == "" {
		return &Result{OK: false, Err: "to and subject are required"}, nil
	}
	if err := t.sender.SendEmail(ctx, args.To, args.Subject, args.Body); err != nil {
		return &Result{OK: false, Err: err.Error()}, nil
	}
	return &Result{OK: true, Data: map[string]any{"to": args.To}}, nil
}

type noteTool struct{ sink NoteSink }

func NewNoteTool(s NoteSink) Tool { return &noteTool{sink: s} }

func (t *noteTool) Spec() reasoning.ToolSpec {
	return reasoning.ToolSpec{
		Name:        "notes.append",
		Description: "Append a note to the owner's notebook.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":   map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"title", "content"},
		},
	}
}

func (t *noteTool) Invoke(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := decodeParams(params, &args); err != nil {
		return &Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
	}
	if args.Title == "" {
		return &Result{OK: false, Err: "title is required"}, nil
	}
	if err := t.sink.AppendNote(ctx, args.Title, args.Content); err != nil {
		return &Result{OK: false, Err: err.Error()}, nil
	}
	return &Result{OK: true, Data: map[string]any{"title": args.Title}}, nil
}

type calendarTool struct{ cal CalendarWriter }

func NewCalendarTool(c CalendarWriter) Tool { return &calendarTool{cal: c} }

func (t *calendarTool) Spec() reasoning.ToolSpec {
	return reasoning.ToolSpec{
		Name:        "calendar.create_event",
		Description: "Create a calendar event for the owner.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":      map[string]any{"type": "string"},
				"start_time": map[string]any{"type": "string", "format": "date-time"},
				"end_time":   map[string]any{"type": "string", "format": "date-time"},
				"location":   map[string]any{"type": "string"},
			},
			"required": []string{"title", "start_time"},
		},
	}
}

func (t *calendarTool) Invoke(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args struct {
		Title     string `json:"title"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Location  string `json:"location"`
	}
	if err := decodeParams(params, &args); err != nil {
		return &Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
	}
	start, err := time.Parse(time.RFC3339, args.StartTime)
	if err != nil {
		return &Result{OK: false, Err: "start_time must be RFC 3339: " + err.Error()}, nil
	}
	end := start.Add(time.Hour)
	if args.EndTime != "" {
		end, err = time.Parse(time.RFC3339, args.EndTime)
		if err != nil {
			return &Result{OK: false, Err: "end_time must be RFC 3339: " + err.Error()}, nil
		}
	}
	if err := t.cal.CreateEvent(ctx, args.Title, start, end, args.Location); err != nil {
		return &Result{OK: false, Err: err.Error()}, nil
	}
	return &Result{OK: true, Data: map[string]any{"title": args.Title, "start_time": start}}, nil
}

type smsTool struct{ sender SMSSender }

func NewSMSTool(s SMSSender) Tool { return &smsTool{sender: s} }

func (t *smsTool) Spec() reasoning.ToolSpec {
	return reasoning.ToolSpec{
		Name:        "sms.send",
		Description: "Send a short text message to a phone number.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":   map[string]any{"type": "string", "description": "E.164 phone number"},
				"body": map[string]any{"type": "string"},
			},
			"required": []string{"to", "body"},
		},
	}
}

func (t *smsTool) Invoke(ctx context.Context, params json.RawMessage) (*Result, error) {
	var args struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if err := decodeParams(params, &args); err != nil {
		return &Result{OK: false, Err: "invalid parameters: " + err.Error()}, nil
	}
	if args.To == "" || args.Body == "" {
		return &Result{OK: false, Err: "to and body are required"}, nil
	}
	if err := t.sender.SendSMS(ctx, args.To, args.Body); err != nil {
		return &Result{OK: false, Err: err.Error()}, nil
	}
	return &Result{OK: true, Data: map[string]any{"to": args.To}}, nil
}
