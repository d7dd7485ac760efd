package notifications

import (
	"testing"

	"github.com/bissquit/pillbox/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reminder() domain.Notification {
	return domain.Notification{
		ID:      "n-1",
		UserID:  "42",
		Type:    domain.NotificationTypeMedicationReminder,
		Title:   "Time for Metformin",
		Message: "Take 500mg with water.",
		Metadata: map[string]string{
			domain.MetaMedicationName: "Metformin",
			domain.MetaDosage:         "500mg",
			domain.MetaDoseAt:         "2026-03-10T08:00:00Z",
		},
	}
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Len(t, r.templates, len(renderedChannels))
}

func TestRenderer_Email(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	subject, body, err := r.Render(domain.ChannelTypeEmail, reminder())
	require.NoError(t, err)

	assert.Equal(t, "[Reminder] Time for Metformin", subject)
	assert.Contains(t, body, "Take 500mg with water.")
	assert.Contains(t, body, "Medication: Metformin")
	assert.Contains(t, body, "Dosage: 500mg")
	assert.Contains(t, body, "Scheduled for: Mar 10, 2026 08:00")
	assert.NotContains(t, body, "ignore this message")
}

func TestRenderer_EmailMissedDose(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	n := reminder()
	n.Type = domain.NotificationTypeMissedDose

	subject, body, err := r.Render(domain.ChannelTypeEmail, n)
	require.NoError(t, err)

	assert.Equal(t, "[Missed dose] Time for Metformin", subject)
	assert.Contains(t, body, "ignore this message")
}

func TestRenderer_TelegramEscapesHTML(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	n := reminder()
	n.Title = "<script>"

	_, body, err := r.Render(domain.ChannelTypeTelegram, n)
	require.NoError(t, err)

	assert.Contains(t, body, "<b>&lt;script&gt;</b>")
	assert.Contains(t, body, "Metformin (500mg)")
	assert.NotContains(t, body, "<script>")
}

func TestRenderer_WithoutMetadata(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	n := domain.Notification{
		Type:    domain.NotificationTypeSystem,
		Title:   "Maintenance",
		Message: "Service restarts at midnight.",
	}

	for _, ch := range renderedChannels {
		t.Run(string(ch), func(t *testing.T) {
			subject, body, err := r.Render(ch, n)
			require.NoError(t, err)
			assert.Equal(t, "[Pillbox] Maintenance", subject)
			assert.Contains(t, body, "Service restarts at midnight.")
			assert.NotContains(t, body, "<no value>")
		})
	}
}

func TestRenderer_SMS(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, body, err := r.Render(domain.ChannelTypeSMS, reminder())
	require.NoError(t, err)

	assert.Equal(t, "Time for Metformin: Take 500mg with water. (Mar 10, 2026 08:00)", body)
}

func TestRenderer_UnknownChannel(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, _, err = r.Render("fax", reminder())
	assert.Error(t, err)
}

func TestFormatDoseTime(t *testing.T) {
	assert.Equal(t, "Mar 10, 2026 08:00", formatDoseTime("2026-03-10T08:00:00Z"))
	assert.Equal(t, "Mar 10, 2026 08:00", formatDoseTime("2026-03-10T08:00:00+03:00"))
	assert.Equal(t, "tomorrow", formatDoseTime("tomorrow"))
}
