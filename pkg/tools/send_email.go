package tools

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/praxisworks/praxis/pkg/config"
)

// SendEmailTool delivers a message over SMTP. The recipient defaults to the
// ambient user_email so plans can say "email me" without knowing the address.
type SendEmailTool struct {
	cfg  *config.ToolConfig
	send smtpSendFunc
}

type smtpSendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type sendEmailArgs struct {
	To        string `json:"to,omitempty" jsonschema:"description=Recipient address; defaults to the requesting user"`
	Subject   string `json:"subject" jsonschema:"required,description=Subject line"`
	Body      string `json:"body" jsonschema:"required,description=Plain-text body"`
	UserEmail string `json:"user_email,omitempty" jsonschema:"description=Requesting user's address (injected)"`
}

func NewSendEmailTool(cfg *config.ToolConfig) *SendEmailTool {
	return &SendEmailTool{cfg: cfg, send: smtp.SendMail}
}

func (t *SendEmailTool) Info() ToolInfo {
	return ToolInfo{
		Name:         "send_email",
		Description:  "Send a plain-text email to a recipient.",
		Parameters:   SchemaFor(&sendEmailArgs{}),
		ActivityHint: "Emailing {to}",
	}
}

func (t *SendEmailTool) Execute(ctx context.Context, args map[string]any, _ *Ambient) (string, error) {
	to, _ := args["to"].(string)
	if to == "" {
		to, _ = args[ParamUserEmail].(string)
	}
	if to == "" {
		return ErrorResult("no recipient: provide 'to' or run in a context with a user email"), nil
	}
	if !strings.Contains(to, "@") {
		return ErrorResult("invalid recipient address %q", to), nil
	}

	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if subject == "" && body == "" {
		return ErrorResult("subject or body is required"), nil
	}

	if t.cfg.SMTPHost == "" {
		return ErrorResult("send_email is not configured: smtp_host is missing"), nil
	}

	from := t.cfg.From
	if from == "" {
		from = t.cfg.SMTPUser
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", from, to, subject, body)

	var auth smtp.Auth
	if t.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", t.cfg.SMTPUser, t.cfg.SMTPPass, t.cfg.SMTPHost)
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.SMTPHost, t.cfg.SMTPPort)

	// smtp.SendMail has no context support; run it in a goroutine so
	// cancellation still unblocks the caller.
	errCh := make(chan error, 1)
	go func() { errCh <- t.send(addr, auth, from, []string{to}, []byte(msg)) }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		if err != nil {
			return ErrorResult("delivery failed: %v", err), nil
		}
	}
	return fmt.Sprintf("Email sent to %s: %s", to, subject), nil
}
