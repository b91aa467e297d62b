package transport

import (
	"fmt"
	"html"
	"strings"

	"github.com/samstikhin/ulearn-notifier/internal/model"
)

type Content struct {
	Subject string
	Text    string
	HTML    string
}

// Formatter renders notification content. Rich templates live outside this
// service; PlainFormatter is the built-in fallback.
type Formatter interface {
	Format(n *model.Notification) (Content, error)
	FormatBatch(ns []*model.Notification) (Content, error)
}

var kindTitles = map[model.Kind]string{
	model.KindNewComment:                   "New comment",
	model.KindNewCommentForInstructorsOnly: "New comment for instructors",
	model.KindNewCommentFromGroupStudent:   "New comment from your group student",
	model.KindRepliedToYourComment:         "Reply to your comment",
	model.KindLikedYourComment:             "Your comment was liked",
	model.KindJoinedToYourGroup:            "New student in your group",
	model.KindAddedInstructor:              "You are now an instructor",
	model.KindPassedManualChecking:         "Your solution was reviewed",
	model.KindReceivedCodeReviewComment:    "New code review comment",
}

func Title(k model.Kind) string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return string(k)
}

type PlainFormatter struct {
	// BaseURL prefixes course links, e.g. https://ulearn.me
	BaseURL string
}

func (f PlainFormatter) Format(n *model.Notification) (Content, error) {
	line, err := f.line(n)
	if err != nil {
		return Content{}, err
	}
	subject := Title(n.Kind)
	if n.Course != nil && n.Course.Title != "" {
		subject = fmt.Sprintf("%s: %s", n.Course.Title, subject)
	}
	return Content{
		Subject: subject,
		Text:    line,
		HTML:    "<p>" + html.EscapeString(line) + "</p>",
	}, nil
}

func (f PlainFormatter) FormatBatch(ns []*model.Notification) (Content, error) {
	if len(ns) == 0 {
		return Content{}, fmt.Errorf("nothing to format")
	}
	lines := make([]string, 0, len(ns))
	for _, n := range ns {
		line, err := f.line(n)
		if err != nil {
			return Content{}, err
		}
		lines = append(lines, line)
	}

	var b strings.Builder
	b.WriteString("<ul>")
	for _, l := range lines {
		b.WriteString("<li>" + html.EscapeString(l) + "</li>")
	}
	b.WriteString("</ul>")

	return Content{
		Subject: fmt.Sprintf("%s (%d)", Title(ns[0].Kind), len(ns)),
		Text:    strings.Join(lines, "\n"),
		HTML:    b.String(),
	}, nil
}

func (f PlainFormatter) line(n *model.Notification) (string, error) {
	p, err := n.DecodePayload()
	if err != nil {
		return "", err
	}
	line := fmt.Sprintf("%s in course %s", Title(n.Kind), n.CourseID)
	switch p := p.(type) {
	case *model.ManualCheckingPayload:
		if p.IsRecheck {
			line += " (recheck)"
		}
	case *model.CommentPayload:
		if f.BaseURL != "" {
			line += fmt.Sprintf(": %s/course/%s?comment=%d", strings.TrimRight(f.BaseURL, "/"), n.CourseID, p.CommentID)
		}
	}
	return line, nil
}
