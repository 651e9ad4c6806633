package notification

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"
)

// Template IDs. Each notification type has a default template; callers may
// override through metadata["template"].
const (
	TemplateHabitReminder     = "habit_reminder"
	TemplateStreakAchievement = "streak_achievement"
	TemplateWeeklySummary     = "weekly_summary"
	TemplateStreakWarning     = "streak_warning"
	TemplateSystemAlert       = "system_alert"
)

// TemplateForType returns the default template ID for a notification type.
func TemplateForType(t NotificationType) string {
	switch t {
	case TypeHabitReminder:
		return TemplateHabitReminder
	case TypeStreakAchievement:
		return TemplateStreakAchievement
	case TypeWeeklySummary:
		return TemplateWeeklySummary
	case TypeStreakWarning:
		return TemplateStreakWarning
	default:
		return TemplateSystemAlert
	}
}

var subjects = map[string]string{
	TemplateHabitReminder:     "Time for {{.HabitTitle}}",
	TemplateStreakAchievement: "{{.StreakCount}}-day streak on {{.HabitTitle}}!",
	TemplateWeeklySummary:     "Your week in habits",
	TemplateStreakWarning:     "Your {{.HabitTitle}} streak is at risk",
	TemplateSystemAlert:       "HabitFlow notice",
}

var bodies = map[string]string{
	TemplateHabitReminder: `Hi {{.UserName}},

It's time for "{{.HabitTitle}}". Keep the chain going, you're {{.StreakCount}} days in.

Open HabitFlow to check it off.`,

	TemplateStreakAchievement: `Congratulations {{.UserName}}!

You just hit a {{.StreakCount}}-day streak on "{{.HabitTitle}}". That puts you ahead of your last best run.

Keep it up!`,

	TemplateWeeklySummary: `Hi {{.UserName}},

Here's your week: {{.CompletedCount}} check-ins across {{.HabitCount}} habits. Your longest active streak is {{.StreakCount}} days.

See the full breakdown in the app.`,

	TemplateStreakWarning: `{{.UserName}}, your {{.StreakCount}}-day streak on "{{.HabitTitle}}" ends tonight unless you check in.`,

	TemplateSystemAlert: `Hi {{.UserName}},

{{.AlertMessage}}

The HabitFlow team`,
}

// htmlLayout wraps the text body for email delivery. Kept deliberately plain;
// the design-system layout lives with the frontend.
const htmlLayout = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"/></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #32325d; max-width: 580px; margin: 0 auto; padding: 24px;">
<h2 style="font-size: 20px;">{{.Subject}}</h2>
<div style="white-space: pre-line; color: #525f7f;">{{.Body}}</div>
<hr style="border: none; border-top: 1px solid #e1e9ee; margin: 24px 0;"/>
<p style="color: #8898aa; font-size: 12px;">You receive this because of your HabitFlow notification preferences.</p>
</body>
</html>`

var layoutTmpl = htmltemplate.Must(htmltemplate.New("layout").Parse(htmlLayout))

// RenderTemplate renders the subject, text and HTML parts for a template ID.
// Unknown IDs are an error; the orchestrator treats that as permanent.
func RenderTemplate(templateID string, data map[string]string) (Message, error) {
	subjectSrc, ok := subjects[templateID]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", templateID)
	}

	subject, err := renderText(templateID+"_subject", subjectSrc, data)
	if err != nil {
		return Message{}, err
	}
	body, err := renderText(templateID+"_body", bodies[templateID], data)
	if err != nil {
		return Message{}, err
	}

	var htmlBuf bytes.Buffer
	if err := layoutTmpl.Execute(&htmlBuf, map[string]string{
		"Subject": subject,
		"Body":    body,
	}); err != nil {
		return Message{}, fmt.Errorf("render html layout: %w", err)
	}

	return Message{Subject: subject, Text: body, HTML: htmlBuf.String()}, nil
}

func renderText(name, src string, data map[string]string) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}
