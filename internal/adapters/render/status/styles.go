package status

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/lifecycle"
)

// gaugeStyles paint the per-credential capacity bar.
type gaugeStyles struct {
	edge lipgloss.Style
	used lipgloss.Style
	free lipgloss.Style
}

type styles struct {
	heading     lipgloss.Style
	gap         lipgloss.Style
	placeholder lipgloss.Style
	muted       lipgloss.Style
	id          lipgloss.Style
	value       lipgloss.Style
	ok          lipgloss.Style
	alert       lipgloss.Style
	gauge       gaugeStyles
}

func newStyles() styles {
	return styles{
		heading:     lipgloss.NewStyle().Bold(true).Underline(true),
		gap:         lipgloss.NewStyle().MarginTop(1),
		placeholder: lipgloss.NewStyle().Faint(true).Italic(true),
		muted:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		id:          lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		value:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		ok:          lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		alert:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("209")),
		gauge: gaugeStyles{
			edge: lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
			used: lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
			free: lipgloss.NewStyle().Foreground(lipgloss.Color("237")),
		},
	}
}

func (s styles) accountStatus(status domain.AccountStatus) lipgloss.Style {
	switch status {
	case domain.AccountStatusActive:
		return s.ok
	case domain.AccountStatusError, domain.AccountStatusUnauthorized:
		return s.alert
	default:
		return s.value
	}
}

func (s styles) componentState(state lifecycle.State) lipgloss.Style {
	switch state {
	case lifecycle.StateRunning:
		return s.ok
	case lifecycle.StateError:
		return s.alert
	default:
		return s.value
	}
}

// credentialStatus marks disabled slots; active ones carry no tag.
func (s styles) credentialStatus(status domain.CredentialStatus) string {
	if status == domain.CredentialStatusDisabled {
		return s.alert.Render("[disabled]")
	}
	return ""
}
