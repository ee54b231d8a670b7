package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/forwarder/internal/application"
	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/lifecycle"
)

const barWidth = 20

// Snapshot is what a status view shows. Nil sections are omitted.
type Snapshot struct {
	Pool         *application.PoolStatistics
	AccountStats *application.AccountStatistics
	Accounts     []domain.ManagedAccount
	Supervisor   *lifecycle.Status
}

type RenderOptions struct {
	Now time.Time
	// Width truncates every line when positive.
	Width int
}

func renderView(snapshot Snapshot, opts RenderOptions, s styles) string {
	var sections []string
	if snapshot.Pool != nil {
		sections = append(sections, renderPool(*snapshot.Pool, s))
	}
	if snapshot.AccountStats != nil || snapshot.Accounts != nil {
		sections = append(sections, renderAccounts(snapshot.AccountStats, snapshot.Accounts, opts, s))
	}
	if snapshot.Supervisor != nil {
		sections = append(sections, renderSupervisor(*snapshot.Supervisor, s))
	}

	if len(sections) == 0 {
		return s.placeholder.Render("Nothing to show.")
	}

	for i := 1; i < len(sections); i++ {
		sections[i] = s.gap.Render(sections[i])
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderPool(pool application.PoolStatistics, s styles) string {
	lines := []string{
		s.heading.Render("Credential Pool"),
		s.muted.Render(fmt.Sprintf("credentials: %d  capacity: %d  used: %d  available: %d  usage: %s",
			pool.TotalSlots, pool.TotalCapacity, pool.TotalUsed, pool.Available, formatRate(pool.UsageRate))),
	}

	if len(pool.Slots) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, append(lines, s.placeholder.Render("No credentials configured."))...)
	}

	for _, slot := range pool.Slots {
		lines = append(lines, slotLine(slot, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func slotLine(slot application.SlotStatistics, s styles) string {
	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.id.Render(string(slot.ID)),
		" ",
		renderCapacityBar(slot.Used, slot.MaxCapacity, barWidth, s),
		" ",
		s.value.Render(fmt.Sprintf("%d/%d", slot.Used, slot.MaxCapacity)),
	)

	if tag := s.credentialStatus(slot.Status); tag != "" {
		line += " " + tag
	}
	if len(slot.Accounts) > 0 {
		line += " " + s.muted.Render(joinAccounts(slot.Accounts))
	}
	return line
}

func renderAccounts(stats *application.AccountStatistics, accounts []domain.ManagedAccount, opts RenderOptions, s styles) string {
	lines := []string{s.heading.Render("Accounts")}
	if stats != nil {
		lines = append(lines, s.muted.Render(fmt.Sprintf(
			"total: %d  active: %d  pending: %d  error: %d  offline: %d  unauthorized: %d  logins: %d  usage: %s",
			stats.Total, stats.Active, stats.Pending, stats.Error, stats.Offline, stats.Unauthorized,
			stats.OpenLogins, formatRate(stats.UsageRate))))
	}

	if accounts == nil {
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}
	if len(accounts) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, append(lines, s.placeholder.Render("No accounts registered."))...)
	}

	for _, account := range accounts {
		lines = append(lines, accountLine(account, opts, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func accountLine(account domain.ManagedAccount, opts RenderOptions, s styles) string {
	credential := "none"
	if account.HasCredential() {
		credential = string(account.Credential)
	}

	parts := []string{
		s.id.Render(string(account.ID)),
		s.accountStatus(account.Status).Render(string(account.Status)),
		s.value.Render("credential: " + credential),
	}
	if account.ErrorCount > 0 {
		parts = append(parts, s.alert.Render(fmt.Sprintf("errors: %d", account.ErrorCount)))
	}
	if !account.LastActive.IsZero() {
		parts = append(parts, s.muted.Render("active "+formatSince(account.LastActive, opts.Now)))
	}
	return strings.Join(parts, "  ")
}

func renderSupervisor(status lifecycle.Status, s styles) string {
	state := s.alert.Render("stopped")
	if status.Running {
		state = s.ok.Render("running")
	}

	header := "Supervisor " + state
	if status.RunID != "" {
		header += " " + s.muted.Render(status.RunID)
	}
	lines := []string{s.heading.Render(header)}

	for _, component := range status.Components {
		line := lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.id.Render(component.Name),
			" ",
			s.componentState(component.State).Render(string(component.State)),
		)
		if component.LastError != "" {
			line += " " + s.alert.Render(component.LastError)
		}
		lines = append(lines, line)
	}
	for _, msg := range status.Errors {
		lines = append(lines, s.alert.Render("stats: "+msg))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderCapacityBar(used, capacity, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := 0
	if capacity > 0 {
		filled = int(math.Round(float64(width) * float64(used) / float64(capacity)))
	}
	filled = max(0, min(filled, width))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.gauge.edge.Render("["),
		s.gauge.used.Render(strings.Repeat("=", filled)),
		s.gauge.free.Render(strings.Repeat("-", width-filled)),
		s.gauge.edge.Render("]"),
	)
}

func joinAccounts(accounts []domain.AccountID) string {
	names := make([]string, len(accounts))
	for i, account := range accounts {
		names[i] = string(account)
	}
	return strings.Join(names, ", ")
}

func formatRate(rate float64) string {
	return fmt.Sprintf("%.0f%%", math.Max(0, math.Min(rate, 1))*100)
}

func formatSince(at, now time.Time) string {
	if now.IsZero() {
		return at.UTC().Format(time.RFC3339)
	}

	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm ago", int(elapsed.Minutes()))
	case elapsed < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(elapsed.Hours()/24))
	}
}
