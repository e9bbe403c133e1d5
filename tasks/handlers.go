package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

// EmailArgs is the payload of send_email.
type EmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// LogArgs is the payload of log.
type LogArgs struct {
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// DigestArgs is the payload of weekly_digest; a zero Week means the current week.
type DigestArgs struct {
	Week time.Time `json:"week,omitempty"`
}

// weeklyPoster is the part of ContentService the digest needs.
type weeklyPoster interface {
	WeeklyPosts(ctx context.Context, now time.Time) ([]models.Post, error)
}

// HandlerDeps are the collaborators task handlers use. Tasks receives the
// per-recipient send_email tasks of the digest.
type HandlerDeps struct {
	Mailer           utils.MailSender
	Tasks            Enqueuer
	Content          weeklyPoster
	DigestRecipients []string
	SiteURL          string
	Log              *zap.Logger
	Now              func() time.Time
}

// RegisterHandlers installs send_email, log and weekly_digest.
func RegisterHandlers(r *Registry, deps HandlerDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r.Register(SendEmail, func(ctx context.Context, raw json.RawMessage) error {
		var args EmailArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("decode email args: %w", err)
		}
		return deps.Mailer.Send(args.To, args.Subject, args.Body)
	})

	r.Register(Log, func(ctx context.Context, raw json.RawMessage) error {
		var args LogArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("decode log args: %w", err)
		}
		fields := make([]zap.Field, 0, len(args.Fields))
		for k, v := range args.Fields {
			fields = append(fields, zap.String(k, v))
		}
		deps.Log.Info(args.Message, fields...)
		return nil
	})

	r.Register(WeeklyDigest, func(ctx context.Context, raw json.RawMessage) error {
		var args DigestArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return fmt.Errorf("decode digest args: %w", err)
			}
		}
		week := args.Week
		if week.IsZero() {
			week = deps.Now()
		}
		posts, err := deps.Content.WeeklyPosts(ctx, week)
		if err != nil {
			return err
		}
		if len(posts) == 0 || len(deps.DigestRecipients) == 0 {
			deps.Log.Info("weekly digest skipped", zap.Int("posts", len(posts)))
			return nil
		}
		subject, body := composeDigest(week, posts, deps.SiteURL)
		// one send_email per recipient so a failing address retries alone
		for _, to := range deps.DigestRecipients {
			if _, err := Email(ctx, deps.Tasks, to, subject, body); err != nil {
				return fmt.Errorf("digest to %s: %w", to, err)
			}
		}
		deps.Log.Info("weekly digest fanned out", zap.Int("posts", len(posts)), zap.Int("recipients", len(deps.DigestRecipients)))
		return nil
	})
}

func composeDigest(week time.Time, posts []models.Post, siteURL string) (string, string) {
	start, _ := utils.WeekBounds(week)
	subject := "Weekly digest for the week of " + start.Format("2006-01-02")
	var b strings.Builder
	fmt.Fprintf(&b, "%d new post(s) this week:\n\n", len(posts))
	for _, p := range posts {
		fmt.Fprintf(&b, "* %s by %s (%s)\n  %s/post/%d\n",
			p.Title, p.User.Username, p.PublishDate.Format("Mon Jan 2"), strings.TrimRight(siteURL, "/"), p.ID)
	}
	return subject, b.String()
}

// Email enqueues a send_email task.
func Email(ctx context.Context, enq Enqueuer, to, subject, body string) (string, error) {
	return enq.Enqueue(ctx, SendEmail, EmailArgs{To: to, Subject: subject, Body: body})
}

// AuditObserver enqueues a log task for every identity change.
func AuditObserver(enq Enqueuer, log *zap.Logger) services.IdentityObserver {
	return func(ctx context.Context, change services.IdentityChange) {
		args := LogArgs{Message: "user " + string(change.Kind), Fields: map[string]string{"via": change.Via}}
		if change.User != nil {
			args.Fields["username"] = change.User.Username
		}
		if _, err := enq.Enqueue(ctx, Log, args); err != nil {
			log.Warn("audit enqueue failed", zap.Error(err))
		}
	}
}
