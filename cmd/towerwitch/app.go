package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/geo"
	"github.com/skpeterson2000/towerwitch/pkg/gpsfeed"
	"github.com/skpeterson2000/towerwitch/pkg/locator"
	"github.com/skpeterson2000/towerwitch/pkg/tracker"
)

// ViewMode represents the current active view
type ViewMode int

const (
	ViewModeGPS ViewMode = iota
	ViewModeNearest
	ViewModeInRange

	viewModeCount
)

// Display conversion factors.
const (
	feetPerMeter = 3.28084
	mphPerMPS    = 2.23694
	knotsPerMPS  = 1.94384

	// stationaryMPS is the speed floor below which speed and heading
	// readings are receiver noise rather than movement.
	stationaryMPS = 0.5
)

// radiusStep is how much +/- grows or shrinks the search radius, in the
// query's current unit.
const radiusStep = 5.0

// AppConfig holds the application dependencies
type AppConfig struct {
	Config       *config.Config
	Tracker      *tracker.Controller
	SitesLoaded  int
	LoadWarnings int
}

// App is the main TUI application
type App struct {
	cfg     *config.Config
	tracker *tracker.Controller

	// UI components
	tviewApp   *tview.Application
	mainView   *tview.TextView
	status     *tview.TextView
	controls   *tview.TextView
	logs       *tview.TextView
	rootLayout *tview.Flex

	// State
	currentView  ViewMode
	update       *tracker.Update
	sitesLoaded  int
	loadWarnings int
	mu           sync.RWMutex

	// Update loop
	sub         *tracker.Subscription
	updateTimer *time.Ticker
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewApp creates a new TUI application
func NewApp(cfg *AppConfig) *App {
	app := &App{
		cfg:          cfg.Config,
		tracker:      cfg.Tracker,
		tviewApp:     tview.NewApplication(),
		currentView:  ViewModeGPS,
		sitesLoaded:  cfg.SitesLoaded,
		loadWarnings: cfg.LoadWarnings,
		stopChan:     make(chan struct{}),
	}

	app.setupUI()

	app.addLog("INFO", fmt.Sprintf("Registry loaded: %d sites", cfg.SitesLoaded))
	if cfg.LoadWarnings > 0 {
		app.addLog("WARN", fmt.Sprintf("Skipped %d malformed registry rows", cfg.LoadWarnings))
	}

	return app
}

// setupUI initializes all UI components
func (a *App) setupUI() {
	a.createMainView()
	a.createStatusPanel()
	a.createControlsPanel()
	a.createLogsPanel()

	// Create layout
	a.createLayout()

	// Setup keyboard handlers
	a.tviewApp.SetInputCapture(a.handleKeyboard)
}

// createMainView creates the switchable main panel
func (a *App) createMainView() {
	a.mainView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.mainView.SetBorder(true).SetTitle(" GPS Detail ")
}

// createStatusPanel creates the summary info panel
func (a *App) createStatusPanel() {
	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.status.SetBorder(true).SetTitle(" Status ")
}

// createControlsPanel creates the controls/shortcuts panel
func (a *App) createControlsPanel() {
	a.controls = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	a.controls.SetBorder(true).SetTitle(" Controls ")

	// Set static controls text
	controlsText := `[yellow]VIEWS[-]
  [white]g[-]         GPS detail
  [white]n[-]         Nearest sites
  [white]i[-]         In-range sites
  [white]TAB[-]       Next view

[yellow]ACTIONS[-]
  [white]r[-]         Refresh now
  [white]u[-]         Cycle unit
  [white]+/-[-]       Search radius

[yellow]CONTROL[-]
  [white]q[-]         Quit`

	a.controls.SetText(controlsText)
}

// createLogsPanel creates the log viewer panel
func (a *App) createLogsPanel() {
	a.logs = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(100)
	a.logs.SetBorder(true).SetTitle(" Logs ")

	// Add initial log message
	a.addLog("INFO", "Application started")
}

// createLayout creates the main layout with 4 panels
func (a *App) createLayout() {
	// Right sidebar with 3 panels
	sidebar := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.status, 0, 4, false).   // 40% of sidebar
		AddItem(a.controls, 0, 3, false). // 30% of sidebar
		AddItem(a.logs, 0, 3, false)      // 30% of sidebar

	// Main layout: main view (70%) + sidebar (30%)
	a.rootLayout = tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.mainView, 0, 7, true). // 70% width, focusable
		AddItem(sidebar, 0, 3, false)    // 30% width

	a.tviewApp.SetRoot(a.rootLayout, true)
}

// Run starts the application
func (a *App) Run() error {
	a.sub = a.tracker.Subscribe()
	a.updateTimer = time.NewTicker(time.Second)

	go a.updateLoop()

	a.render()
	return a.tviewApp.Run()
}

// Stop shuts down the application
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.updateTimer != nil {
			a.updateTimer.Stop()
		}
		close(a.stopChan)
		if a.sub != nil {
			a.sub.Cancel()
		}
		a.tviewApp.Stop()
	})
}

// updateLoop repaints on tracker updates and once a second so the clock
// and fix age stay current.
func (a *App) updateLoop() {
	for {
		select {
		case <-a.stopChan:
			return
		case upd, ok := <-a.sub.C:
			if !ok {
				return
			}
			a.consumeUpdate(upd)
		case <-a.updateTimer.C:
			a.tviewApp.QueueUpdateDraw(a.render)
		}
	}
}

// consumeUpdate records a new result set and repaints.
func (a *App) consumeUpdate(upd tracker.Update) {
	a.mu.Lock()
	first := a.update == nil
	var prevSource gpsfeed.FixSource
	if a.update != nil {
		prevSource = a.update.Fix.Source
	}
	a.update = &upd
	a.mu.Unlock()

	if first {
		a.addLog("INFO", fmt.Sprintf("Position acquired: %.5f, %.5f (%s)",
			upd.Fix.Latitude, upd.Fix.Longitude, upd.Fix.Source))
	} else if upd.Fix.Source != prevSource {
		a.addLog("INFO", fmt.Sprintf("Position source now %s", upd.Fix.Source))
	}

	a.tviewApp.QueueUpdateDraw(a.render)
}

// addLog appends a timestamped message to the log panel
func (a *App) addLog(level, message string) {
	timestamp := time.Now().Format("15:04:05")

	var color string
	switch level {
	case "ERROR":
		color = "red"
	case "WARN":
		color = "yellow"
	case "DEBUG":
		color = "gray"
	default:
		color = "white"
	}

	logLine := fmt.Sprintf("[gray]%s[-] [%s]%-5s[-] %s\n", timestamp, color, level, tview.Escape(message))
	fmt.Fprint(a.logs, logLine)
}

// handleKeyboard handles keyboard input
func (a *App) handleKeyboard(event *tcell.EventKey) *tcell.EventKey {
	key := event.Key()
	r := event.Rune()

	switch {
	// Quit
	case key == tcell.KeyEscape || r == 'q':
		a.Stop()
		return nil

	// Views
	case r == 'g':
		a.switchView(ViewModeGPS)
		return nil
	case r == 'n':
		a.switchView(ViewModeNearest)
		return nil
	case r == 'i':
		a.switchView(ViewModeInRange)
		return nil
	case key == tcell.KeyTab:
		a.switchView((a.viewMode() + 1) % viewModeCount)
		return nil

	// Actions
	case r == 'r':
		a.refresh()
		return nil
	case r == 'u':
		a.cycleUnit()
		return nil
	case r == '+' || r == '=':
		a.adjustRadius(radiusStep)
		return nil
	case r == '-':
		a.adjustRadius(-radiusStep)
		return nil
	}

	return event
}

// viewMode returns the current view mode
func (a *App) viewMode() ViewMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentView
}

// switchView switches to a different view mode
func (a *App) switchView(mode ViewMode) {
	a.mu.Lock()
	a.currentView = mode
	a.mu.Unlock()

	a.addLog("DEBUG", fmt.Sprintf("Switched to %s view", viewName(mode)))
	a.render()
}

// viewName returns a view mode's display name
func viewName(mode ViewMode) string {
	switch mode {
	case ViewModeNearest:
		return "nearest"
	case ViewModeInRange:
		return "in-range"
	default:
		return "GPS"
	}
}

// refresh re-resolves against the last known position
func (a *App) refresh() {
	if err := a.tracker.Refresh(); err != nil {
		a.addLog("WARN", fmt.Sprintf("Refresh failed: %v", err))
		return
	}
	a.addLog("INFO", "Results refreshed")
}

// cycleUnit advances the query's distance unit
func (a *App) cycleUnit() {
	q := a.tracker.Query()
	for i, u := range geo.Units {
		if u == q.Unit {
			q.Unit = geo.Units[(i+1)%len(geo.Units)]
			break
		}
	}

	if err := a.tracker.SetQuery(q); err != nil {
		a.addLog("WARN", fmt.Sprintf("Unit change failed: %v", err))
		return
	}
	a.addLog("INFO", fmt.Sprintf("Distance unit: %s", q.Unit.Label()))
	a.reResolve()
}

// adjustRadius grows or shrinks the in-range search radius
func (a *App) adjustRadius(delta float64) {
	q := a.tracker.Query()
	q.Radius += delta
	if q.Radius < radiusStep {
		q.Radius = radiusStep
	}

	if err := a.tracker.SetQuery(q); err != nil {
		a.addLog("WARN", fmt.Sprintf("Radius change failed: %v", err))
		return
	}
	a.addLog("INFO", fmt.Sprintf("Search radius: %s", locator.FormatDistance(q.Radius, q.Unit)))
	a.reResolve()
}

// reResolve refreshes the result set after a query change. Before the
// first position there is nothing to resolve against, so only the status
// panel needs repainting.
func (a *App) reResolve() {
	if err := a.tracker.Refresh(); err != nil {
		a.render()
	}
}

// render repaints the main view and status panel. It must run on the UI
// goroutine, either inside an input handler or via QueueUpdateDraw.
func (a *App) render() {
	a.mu.RLock()
	upd := a.update
	view := a.currentView
	sites := a.sitesLoaded
	warnings := a.loadWarnings
	a.mu.RUnlock()

	query := a.tracker.Query()

	switch view {
	case ViewModeNearest:
		a.mainView.SetTitle(" Nearest Sites ")
		a.mainView.SetText(renderNearest(upd))
	case ViewModeInRange:
		a.mainView.SetTitle(" Sites In Range ")
		a.mainView.SetText(renderInRange(upd))
	default:
		a.mainView.SetTitle(" GPS Detail ")
		a.mainView.SetText(a.renderGPS(upd))
	}

	a.status.SetText(renderStatus(upd, query, sites, warnings))
}

// renderGPS renders the position detail view
func (a *App) renderGPS(upd *tracker.Update) string {
	var b strings.Builder

	if upd == nil {
		b.WriteString("[yellow]STATUS:[-]    [red]searching[-]\n\n")
		b.WriteString("Waiting for the first usable fix.\n\n")
		fmt.Fprintf(&b, "[gray]gpsd:[-]      [white]%s[-]\n", a.cfg.GPS.GPSDAddress)
		fmt.Fprintf(&b, "[gray]Snapshot:[-]  [white]%s[-]\n", snapshotLabel(a.cfg.GPS.SnapshotPath))
		return b.String()
	}

	fix := upd.Fix
	state, stateColor := fixStatus(fix.Source)
	fmt.Fprintf(&b, "[yellow]STATUS:[-]    [%s]%s[-]  [gray]via[-] [white]%s[-]\n\n", stateColor, state, fix.Source)
	fmt.Fprintf(&b, "[gray]Quality:[-]    [white]%s[-]\n", fix.Quality)
	fmt.Fprintf(&b, "[gray]Latitude:[-]   [white]%.5f°[-]\n", fix.Latitude)
	fmt.Fprintf(&b, "[gray]Longitude:[-]  [white]%.5f°[-]\n", fix.Longitude)

	// Altitude is only trustworthy on a 3D fix.
	if fix.Quality == gpsfeed.Quality3D {
		fmt.Fprintf(&b, "[gray]Altitude:[-]   [white]%.0f ft[-]\n", fix.AltitudeM*feetPerMeter)
	} else {
		b.WriteString("[gray]Altitude:[-]   [white]---[-]\n")
	}

	if fix.SpeedMPS >= stationaryMPS {
		fmt.Fprintf(&b, "[gray]Speed:[-]      [white]%.1f mph / %.1f kn[-]\n",
			fix.SpeedMPS*mphPerMPS, fix.SpeedMPS*knotsPerMPS)
		fmt.Fprintf(&b, "[gray]Heading:[-]    [white]%.0f° %s[-]\n",
			fix.HeadingDeg, geo.Cardinal(fix.HeadingDeg))
	} else {
		b.WriteString("[gray]Speed:[-]      [white]stationary[-]\n")
		b.WriteString("[gray]Heading:[-]    [white]---[-]\n")
	}

	if !fix.Time.IsZero() {
		fmt.Fprintf(&b, "[gray]Fix time:[-]   [white]%s[-]  [gray]age[-] [white]%.1fs[-]\n",
			fix.Time.Local().Format("15:04:05"), time.Since(fix.Time).Seconds())
	}

	b.WriteString("\n[yellow]RESOLUTION[-]\n")
	fmt.Fprintf(&b, "[gray]Resolved:[-]   [white]%s[-]  [gray]seq[-] [white]%d[-]\n",
		upd.ResolvedAt.Local().Format("15:04:05"), upd.Seq)
	fmt.Fprintf(&b, "[gray]Nearest:[-]    [white]%d sites[-]\n", len(upd.Nearest))
	fmt.Fprintf(&b, "[gray]In range:[-]   [white]%d sites within %s[-]\n",
		len(upd.InRange), locator.FormatDistance(upd.Query.Radius, upd.Query.Unit))

	return b.String()
}

// renderNearest renders the ranked nearest-site table
func renderNearest(upd *tracker.Update) string {
	if upd == nil {
		return "\n[gray]No position yet. Results appear after the first fix.[-]\n"
	}
	if len(upd.Nearest) == 0 {
		return "\n[gray]The registry has no rankable sites.[-]\n"
	}

	var b strings.Builder
	b.WriteString("[yellow]  #  DISTANCE       BRG        NAC     SITE[-]\n\n")
	for i, r := range upd.Nearest {
		writeResultRow(&b, i+1, r)
	}
	return b.String()
}

// renderInRange renders every site inside the search radius
func renderInRange(upd *tracker.Update) string {
	if upd == nil {
		return "\n[gray]No position yet. Results appear after the first fix.[-]\n"
	}

	radius := locator.FormatDistance(upd.Query.Radius, upd.Query.Unit)
	if len(upd.InRange) == 0 {
		return fmt.Sprintf("\n[gray]No sites within %s.[-]\n", radius)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%d sites within %s[-]\n\n", len(upd.InRange), radius)
	for i, r := range upd.InRange {
		writeResultRow(&b, i+1, r)
	}
	return b.String()
}

// writeResultRow writes one ranked site as a colored two-line entry:
// rank, distance, bearing, NAC and description, then county and control
// channels underneath.
func writeResultRow(b *strings.Builder, rank int, r locator.RankedResult) {
	color := proximityColor(r.Proximity())
	fmt.Fprintf(b, "[%s]%3d  %-12s  %4.0f° %-3s  %-6s  %s[-]\n",
		color, rank,
		locator.FormatDistance(r.Distance, r.Unit),
		r.Bearing, geo.Cardinal(r.Bearing),
		tview.Escape(r.Site.NAC), tview.Escape(r.Site.Description))

	detail := r.Site.County
	if detail != "" {
		detail += " County"
	}
	if len(r.ControlChannels) > 0 {
		if detail != "" {
			detail += " · "
		}
		detail += "ctrl " + strings.Join(r.ControlChannels, " ")
	}
	if detail != "" {
		fmt.Fprintf(b, "     [gray]%s[-]\n", tview.Escape(detail))
	}
}

// proximityColor maps distance bands to display colors: near sites are
// green, mid yellow, far red.
func proximityColor(p locator.Proximity) string {
	switch p {
	case locator.ProximityNear:
		return "green"
	case locator.ProximityMid:
		return "yellow"
	default:
		return "red"
	}
}

// renderStatus renders the sidebar summary panel
func renderStatus(upd *tracker.Update, query tracker.Query, sites, warnings int) string {
	var b strings.Builder

	if upd == nil {
		b.WriteString("[yellow]GPS:[-] [red]searching[-]\n")
		b.WriteString("[gray]Pos:[-]  [white]---[-]\n")
	} else {
		fix := upd.Fix
		state, stateColor := fixStatus(fix.Source)
		fmt.Fprintf(&b, "[yellow]GPS:[-] [%s]%s[-] [gray](%s)[-]\n", stateColor, state, fix.Quality)
		fmt.Fprintf(&b, "[gray]Pos:[-]  [white]%.4f°, %.4f°[-]\n", fix.Latitude, fix.Longitude)
	}
	fmt.Fprintf(&b, "[gray]Time:[-] [white]%s[-]\n", time.Now().Format("15:04:05"))

	b.WriteString("\n[yellow]QUERY[-]\n")
	fmt.Fprintf(&b, "[gray]Unit:[-]    [white]%s[-]\n", query.Unit.Label())
	fmt.Fprintf(&b, "[gray]Nearest:[-] [white]%d[-]\n", query.NearestCount)
	fmt.Fprintf(&b, "[gray]Radius:[-]  [white]%s[-]\n", locator.FormatDistance(query.Radius, query.Unit))

	b.WriteString("\n[yellow]REGISTRY[-]\n")
	fmt.Fprintf(&b, "[gray]Sites:[-]    [white]%d[-]\n", sites)
	if warnings > 0 {
		fmt.Fprintf(&b, "[gray]Skipped:[-]  [yellow]%d rows[-]\n", warnings)
	}
	if upd != nil {
		fmt.Fprintf(&b, "[gray]Resolves:[-] [white]%d[-]\n", upd.Seq)
	}

	return b.String()
}

// fixStatus returns the display state and color for a fix source. A
// snapshot-seeded position is a stale hint, not a live fix.
func fixStatus(src gpsfeed.FixSource) (string, string) {
	if src == gpsfeed.SourceSnapshot {
		return "last known", "yellow"
	}
	return "active", "green"
}

// snapshotLabel returns a display string for the snapshot setting
func snapshotLabel(path string) string {
	if path == "" {
		return "disabled"
	}
	return path
}
