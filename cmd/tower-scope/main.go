package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/locator"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
	"github.com/skpeterson2000/towerwitch/pkg/tracker"
)

// Scope radius limits in the query's unit.
const (
	minScopeRadius = 5.0
	maxScopeRadius = 500.0
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "unknown"
)

type model struct {
	cfg     *config.Config
	tracker *tracker.Controller
	sub     *tracker.Subscription

	update      *tracker.Update
	sites       []locator.RankedResult
	selected    int
	scopeRadius float64
	unit        geo.Unit
	feedClosed  bool
	err         error
	width       int
	height      int
}

type tickMsg time.Time

type updateMsg tracker.Update

type feedClosedMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForUpdate delivers the next tracker update as a message. The
// command blocks until one arrives, so bubbletea runs it off the UI loop.
func waitForUpdate(sub *tracker.Subscription) tea.Cmd {
	return func() tea.Msg {
		upd, ok := <-sub.C
		if !ok {
			return feedClosedMsg{}
		}
		return updateMsg(upd)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.sub), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		// Clear error on any keypress (but don't quit)
		if m.err != nil {
			m.err = nil
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.sites)-1 {
				m.selected++
			}
		case "+", "=":
			if m.scopeRadius < maxScopeRadius {
				m.scopeRadius *= 1.5
				if m.scopeRadius > maxScopeRadius {
					m.scopeRadius = maxScopeRadius
				}
			}
		case "-", "_":
			if m.scopeRadius > minScopeRadius {
				m.scopeRadius /= 1.5
				if m.scopeRadius < minScopeRadius {
					m.scopeRadius = minScopeRadius
				}
			}
		case "0":
			m.scopeRadius = m.tracker.Query().Radius
		case "u":
			m = m.cycleUnit()
		case "r":
			if err := m.tracker.Refresh(); err != nil && !errors.Is(err, tracker.ErrNoPosition) {
				m.err = err
			}
		}

	case updateMsg:
		upd := tracker.Update(msg)
		m.update = &upd
		m.unit = upd.Query.Unit
		m.sites = mergeResults(upd)
		if m.selected >= len(m.sites) {
			m.selected = 0
		}
		return m, waitForUpdate(m.sub)

	case feedClosedMsg:
		m.feedClosed = true

	case tickMsg:
		return m, tick()
	}

	return m, nil
}

// cycleUnit advances the ranking unit. The numeric radius values keep
// their magnitude and are reinterpreted in the new unit, matching how the
// resolver treats the query radius.
func (m model) cycleUnit() model {
	q := m.tracker.Query()
	for i, u := range geo.Units {
		if u == q.Unit {
			q.Unit = geo.Units[(i+1)%len(geo.Units)]
			break
		}
	}

	if err := m.tracker.SetQuery(q); err != nil {
		m.err = err
		return m
	}
	m.unit = q.Unit

	if err := m.tracker.Refresh(); err != nil && !errors.Is(err, tracker.ErrNoPosition) {
		m.err = err
	}
	return m
}

// mergeResults joins the in-range and nearest lists without duplicates.
// Every nearest site missing from the in-range list lies beyond the query
// radius, so appending keeps the list distance-ordered.
func mergeResults(upd tracker.Update) []locator.RankedResult {
	seen := make(map[string]bool, len(upd.InRange))
	merged := make([]locator.RankedResult, 0, len(upd.InRange)+len(upd.Nearest))

	for _, r := range upd.InRange {
		seen[r.Site.ID] = true
		merged = append(merged, r)
	}
	for _, r := range upd.Nearest {
		if !seen[r.Site.ID] {
			merged = append(merged, r)
		}
	}
	return merged
}

func (m model) View() string {
	var s strings.Builder

	// Header
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	s.WriteString(titleStyle.Render("TOWER SCOPE"))
	s.WriteString("\n\n")

	if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
		helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		s.WriteString(helpStyle.Render("Press any key to continue..."))
		return s.String()
	}

	// No center to draw around until the first usable fix
	if m.update == nil {
		searchStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
		s.WriteString(searchStyle.Render("Searching for GPS fix..."))
		s.WriteString("\n\n")
		s.WriteString(fmt.Sprintf("gpsd: %s\n\n", m.cfg.GPS.GPSDAddress))
		helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
		s.WriteString(helpStyle.Render("Q: Quit"))
		s.WriteString("\n")
		return s.String()
	}

	// Scope and info panel side by side
	scope := m.renderScope()
	info := m.renderScopeInfo()

	scopeLines := strings.Split(scope, "\n")
	infoLines := strings.Split(info, "\n")

	maxLines := len(scopeLines)
	if len(infoLines) > maxLines {
		maxLines = len(infoLines)
	}

	w, _ := m.scopeSize()
	for i := 0; i < maxLines; i++ {
		if i < len(scopeLines) {
			s.WriteString(scopeLines[i])
		} else {
			s.WriteString(strings.Repeat(" ", w))
		}
		s.WriteString("  ") // Spacing
		if i < len(infoLines) {
			s.WriteString(infoLines[i])
		}
		s.WriteString("\n")
	}

	// Site list
	s.WriteString(m.renderSiteList())

	if m.feedClosed {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		s.WriteString(errStyle.Render("Position feed stopped; showing the last result set."))
		s.WriteString("\n")
	}

	return s.String()
}

// renderSiteList renders the distance-ordered site list under the scope,
// windowed around the selection.
func (m model) renderSiteList() string {
	var list strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	list.WriteString(headerStyle.Render("Sites:"))
	list.WriteString(fmt.Sprintf(" (%d)", len(m.sites)))
	list.WriteString("\n\n")

	if len(m.sites) == 0 {
		list.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("  No sites in range"))
		list.WriteString("\n")
		return list.String()
	}

	// Show up to 5 sites
	start := 0
	if m.selected > 2 && len(m.sites) > 5 {
		start = m.selected - 2
	}
	end := start + 5
	if end > len(m.sites) {
		end = len(m.sites)
	}

	for i := start; i < end; i++ {
		r := m.sites[i]

		// Selection indicator
		prefix := "  "
		if i == m.selected {
			prefix = "→ "
		}

		// Control channel indicator
		ccIndicator := ""
		if len(r.ControlChannels) > 0 {
			ccIndicator = " [CC]"
		}

		line := fmt.Sprintf("%s%-28.28s  %-12s  %3.0f° %-3s  NAC %s%s",
			prefix,
			r.Site.Description,
			locator.FormatDistance(r.Distance, r.Unit),
			r.Bearing,
			geo.Cardinal(r.Bearing),
			r.Site.NAC,
			ccIndicator,
		)

		style := lipgloss.NewStyle().Foreground(lipgloss.Color(proximityANSI(r.Proximity())))
		if i == m.selected {
			style = style.Background(lipgloss.Color("237"))
		}
		list.WriteString(style.Render(line))
		list.WriteString("\n")

		// Show control channels for the selected site
		if i == m.selected && len(r.ControlChannels) > 0 {
			ccStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
			list.WriteString(ccStyle.Render(fmt.Sprintf("    Control: %s MHz",
				strings.Join(r.ControlChannels, " MHz, "))))
			list.WriteString("\n")
		}
	}

	return list.String()
}

// proximityANSI maps distance bands to terminal colors. Near sites are
// green, mid yellow, far red.
func proximityANSI(p locator.Proximity) string {
	switch p {
	case locator.ProximityNear:
		return "46"
	case locator.ProximityMid:
		return "226"
	default:
		return "196"
	}
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	csvPath := flag.String("csv", "", "Site registry CSV path (overrides config)")
	gpsdAddr := flag.String("gpsd", "", "gpsd address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tower-scope version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment variables from .env file")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *csvPath != "" {
		cfg.Registry.CSVPath = *csvPath
	}
	if *gpsdAddr != "" {
		cfg.GPS.GPSDAddress = *gpsdAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Load the site registry
	result, err := registry.Load(cfg.Registry.CSVPath, cfg.Registry.LoadOptions())
	if err != nil {
		log.Fatalf("Failed to load site registry: %v", err)
	}

	unit, err := cfg.Query.ParsedUnit()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// The UI owns the terminal, so the tracker and the feed run silent.
	trk, err := tracker.New(tracker.Config{
		Sites: result.Sites,
		Query: tracker.Query{
			Unit:         unit,
			NearestCount: cfg.Query.NearestCount,
			Radius:       cfg.Query.Radius,
		},
		MinResolveInterval: cfg.GPS.MinResolveInterval(),
		Logger:             logging.Noop(),
	})
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}

	// Prime the resolver from the last saved position so the scope draws
	// before the first live fix arrives.
	if cfg.GPS.SnapshotPath != "" {
		if pt, err := gpsfeed.LoadSnapshot(cfg.GPS.SnapshotPath); err == nil {
			trk.SeedPosition(pt)
			_ = trk.Refresh()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the position feed and the tracker
	source := gpsfeed.NewGPSDClient(gpsfeed.GPSDConfig{
		Address:        cfg.GPS.GPSDAddress,
		DialTimeout:    cfg.GPS.DialTimeout(),
		ReconnectDelay: cfg.GPS.ReconnectDelay(),
		Logger:         logging.Noop(),
	})
	go func() {
		// Feed trouble surfaces in the UI as a closed subscription;
		// there is no terminal to log to while the UI runs.
		_ = source.Run(ctx)
	}()
	go trk.Run(ctx, source)

	// Create model
	query := trk.Query()
	m := model{
		cfg:         cfg,
		tracker:     trk,
		sub:         trk.Subscribe(),
		scopeRadius: query.Radius,
		unit:        query.Unit,
	}

	// Start TUI
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, runErr := p.Run()

	cancel()
	source.Close()
	trk.Stop()

	// Persist the last known position for the next session
	if fix, ok := trk.LastFix(); ok && cfg.GPS.SnapshotPath != "" {
		if err := gpsfeed.SaveSnapshot(cfg.GPS.SnapshotPath, fix.Point()); err != nil {
			log.Printf("Warning: Failed to save position snapshot: %v", err)
		}
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}
