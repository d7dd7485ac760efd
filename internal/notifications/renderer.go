package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/pillbox/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var renderedChannels = []domain.ChannelType{
	domain.ChannelTypeInApp,
	domain.ChannelTypeEmail,
	domain.ChannelTypeTelegram,
	domain.ChannelTypeSMS,
	domain.ChannelTypePush,
}

// Renderer renders notifications from templates.
type Renderer struct {
	templates map[domain.ChannelType]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"lower":          strings.ToLower,
		"formatDoseTime": formatDoseTime,
		"typeEmoji":      typeEmoji,
		"escapeHTML":     html.EscapeString,
	}

	r := &Renderer{
		templates: make(map[domain.ChannelType]*template.Template, len(renderedChannels)),
	}

	for _, channel := range renderedChannels {
		filename := fmt.Sprintf("templates/%s.tmpl", channel)

		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}

		tmpl, err := template.New(string(channel)).Funcs(funcMap).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", channel, err)
		}

		r.templates[channel] = tmpl
	}

	return r, nil
}

// Render renders a notification for the specified channel type.
// Returns subject and body.
func (r *Renderer) Render(channelType domain.ChannelType, n domain.Notification) (subject, body string, err error) {
	tmpl, ok := r.templates[channelType]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", channelType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, n); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", channelType, err)
	}

	return renderSubject(n), strings.TrimSpace(buf.String()), nil
}

func renderSubject(n domain.Notification) string {
	var prefix string
	switch n.Type {
	case domain.NotificationTypeMedicationReminder:
		prefix = "Reminder"
	case domain.NotificationTypeMissedDose:
		prefix = "Missed dose"
	case domain.NotificationTypeRefillReminder:
		prefix = "Refill"
	case domain.NotificationTypeSystem:
		prefix = "Pillbox"
	default:
		prefix = "Notification"
	}

	return fmt.Sprintf("[%s] %s", prefix, n.Title)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

// formatDoseTime formats an RFC 3339 dose time in its own zone.
func formatDoseTime(raw string) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return t.Format("Jan 2, 2006 15:04")
}

func typeEmoji(t domain.NotificationType) string {
	switch t {
	case domain.NotificationTypeMedicationReminder:
		return "💊"
	case domain.NotificationTypeMissedDose:
		return "⚠️"
	case domain.NotificationTypeRefillReminder:
		return "🔁"
	case domain.NotificationTypeSystem:
		return "📢"
	default:
		return "📋"
	}
}
