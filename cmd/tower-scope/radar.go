package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/skpeterson2000/towerwitch/pkg/locator"
)

// aspectRatio compensates for terminal characters being roughly twice as
// tall as they are wide, so rings render round instead of oval.
const aspectRatio = 0.5

// ringIntervals are candidate ring spacings in the query's unit. The
// smallest interval that keeps the display under five rings wins.
var ringIntervals = []float64{5, 10, 25, 50, 100, 250}

// scopeSize returns the drawable scope dimensions. The info panel
// reserves columns on the right and the site list reserves rows below;
// minimums keep the scope legible on small terminals.
func (m model) scopeSize() (int, int) {
	w := m.width - 44
	if w < 60 {
		w = 60
	}
	h := m.height - 12
	if h < 22 {
		h = 22
	}
	return w, h
}

// scopeScale returns grid cells per distance unit, fitting the scope
// radius inside the smaller screen dimension.
func (m model) scopeScale(w, h int) float64 {
	maxY := float64(h/2 - 2)
	maxX := float64(w/2-2) * aspectRatio
	max := maxY
	if maxX < maxY {
		max = maxX
	}
	return max / m.scopeRadius
}

// scopeToScreen converts a site's polar position to a grid cell relative
// to the scope center. Returns -1,-1 when the site falls outside the
// scope radius or the drawable area.
func (m model) scopeToScreen(distance, bearing float64) (int, int) {
	if distance > m.scopeRadius {
		return -1, -1
	}

	w, h := m.scopeSize()
	centerX := (w - 2) / 2
	centerY := h / 2
	scale := m.scopeScale(w, h)

	// Bearing 0° is north, which is up on screen, so Y is negated.
	bearingRad := bearing * math.Pi / 180.0
	screenDist := distance * scale

	dx := int(screenDist * math.Sin(bearingRad) / aspectRatio)
	dy := -int(screenDist * math.Cos(bearingRad))

	x := centerX + dx
	y := centerY + dy
	if x < 0 || x >= w-2 || y < 0 || y >= h {
		return -1, -1
	}
	return x, y
}

// renderScope renders the polar site display centered on the current
// position.
func (m model) renderScope() string {
	var scope strings.Builder

	w, h := m.scopeSize()

	// Draw border
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	scope.WriteString(borderStyle.Render("┌" + strings.Repeat("─", w-2) + "┐"))
	scope.WriteString("\n")

	grid := make([][]rune, h)
	for i := range grid {
		grid[i] = make([]rune, w)
		for j := range grid[i] {
			grid[i][j] = ' '
		}
	}

	centerX := (w - 2) / 2
	centerY := h / 2
	scale := m.scopeScale(w, h)
	maxScreenRadius := scale * m.scopeRadius

	// Range rings at the first interval that stays uncluttered
	var ringDistances []float64
	for _, interval := range ringIntervals {
		for dist := interval; dist < m.scopeRadius; dist += interval {
			ringDistances = append(ringDistances, dist)
		}
		if len(ringDistances) > 0 && len(ringDistances) < 5 {
			break
		}
		ringDistances = ringDistances[:0]
	}

	for _, ringDist := range ringDistances {
		screenRadius := int(ringDist * scale)
		drawRing(grid, centerX, centerY, screenRadius)

		// Range label at the top of the ring
		label := fmt.Sprintf("%.0f", ringDist)
		labelY := centerY - screenRadius
		labelX := centerX - len(label)/2
		if labelY >= 0 && labelY < h && labelX >= 0 && labelX+len(label) < w-2 {
			for j, ch := range label {
				grid[labelY][labelX+j] = ch
			}
		}
	}

	// Cardinal directions at the scope edge
	if centerY-int(maxScreenRadius) >= 0 {
		grid[centerY-int(maxScreenRadius)][centerX] = 'N'
	}
	eastX := centerX + int(maxScreenRadius/aspectRatio)
	if eastX < w-2 {
		grid[centerY][eastX] = 'E'
	}
	if centerY+int(maxScreenRadius) < h {
		grid[centerY+int(maxScreenRadius)][centerX] = 'S'
	}
	westX := centerX - int(maxScreenRadius/aspectRatio)
	if westX >= 0 {
		grid[centerY][westX] = 'W'
	}

	// Own position
	grid[centerY][centerX] = '+'

	// Plot sites and collect the selected site's label
	type siteLabel struct {
		x, y  int
		label string
	}
	var labels []siteLabel

	for i, r := range m.sites {
		x, y := m.scopeToScreen(r.Distance, r.Bearing)
		if x < 0 || y < 0 {
			continue
		}

		symbol := '○'
		if len(r.ControlChannels) > 0 {
			symbol = '●' // Site broadcasts a control channel
		}
		if i == m.selected {
			symbol = '◉'
			labels = append(labels, siteLabel{x: x + 2, y: y, label: r.Site.Description})
		}

		grid[y][x] = symbol
	}

	// Labels go on last so sites never get overdrawn
	for _, l := range labels {
		for i, ch := range l.label {
			if l.y >= 0 && l.y < h && l.x+i >= 0 && l.x+i < w-2 {
				if grid[l.y][l.x+i] == ' ' || grid[l.y][l.x+i] == '·' {
					grid[l.y][l.x+i] = ch
				}
			}
		}
	}

	// Render grid with colors
	for y := 0; y < h; y++ {
		scope.WriteString(borderStyle.Render("│"))
		for x := 0; x < w-2; x++ {
			char := grid[y][x]
			switch char {
			case '+':
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true).Render(string(char)))
			case '◉':
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true).Render(string(char)))
			case '●':
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true).Render(string(char)))
			case '○':
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Render(string(char)))
			case 'N', 'E', 'S', 'W':
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Bold(true).Render(string(char)))
			case '·': // Range rings
				scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render(string(char)))
			default:
				switch {
				case char >= '0' && char <= '9': // Range labels
					scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Render(string(char)))
				case char != ' ': // Selected site label
					scope.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Render(string(char)))
				default:
					scope.WriteRune(char)
				}
			}
		}
		scope.WriteString(borderStyle.Render("│"))
		scope.WriteString("\n")
	}

	scope.WriteString(borderStyle.Render("└" + strings.Repeat("─", w-2) + "┘"))

	return scope.String()
}

// drawRing draws a range ring with Bresenham's circle algorithm,
// stretching X to keep the ring round in character cells.
func drawRing(grid [][]rune, cx, cy, radius int) {
	x := radius
	y := 0
	err := 0

	for x >= y {
		xs := int(float64(x) / aspectRatio)
		ys := int(float64(y) / aspectRatio)

		setRingCell(grid, cx+xs, cy+y)
		setRingCell(grid, cx+ys, cy+x)
		setRingCell(grid, cx-ys, cy+x)
		setRingCell(grid, cx-xs, cy+y)
		setRingCell(grid, cx-xs, cy-y)
		setRingCell(grid, cx-ys, cy-x)
		setRingCell(grid, cx+ys, cy-x)
		setRingCell(grid, cx+xs, cy-y)

		y++
		err += 1 + 2*y
		if 2*(err-x)+1 > 0 {
			x--
			err += 1 - 2*x
		}
	}
}

// setRingCell marks a ring cell when it is in bounds and unoccupied.
func setRingCell(grid [][]rune, x, y int) {
	if y >= 0 && y < len(grid) && x >= 0 && x < len(grid[0]) && grid[y][x] == ' ' {
		grid[y][x] = '·'
	}
}

// renderScopeInfo renders the side information panel.
func (m model) renderScopeInfo() string {
	var info strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	info.WriteString(headerStyle.Render("SCOPE"))
	info.WriteString("\n\n")

	if m.update == nil {
		info.WriteString("Center: awaiting fix\n")
	} else {
		fix := m.update.Fix
		info.WriteString(fmt.Sprintf("Center: %.4f°, %.4f°\n", fix.Latitude, fix.Longitude))
		info.WriteString(fmt.Sprintf("Fix: %s via %s\n", fix.Quality, fix.Source))
		if !fix.Time.IsZero() {
			info.WriteString(fmt.Sprintf("Age: %.0fs\n", time.Since(fix.Time).Seconds()))
		}
	}

	info.WriteString(fmt.Sprintf("Radius: %s\n", locator.FormatDistance(m.scopeRadius, m.unit)))
	info.WriteString(fmt.Sprintf("Sites: %d of %d plotted\n", m.plottedCount(), len(m.sites)))
	if m.update != nil {
		info.WriteString(fmt.Sprintf("Seq: %d\n", m.update.Seq))
	}
	info.WriteString("\n")

	// Controls
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	info.WriteString(helpStyle.Render("+/-: Radius  0: Reset  U: Unit\n"))
	info.WriteString(helpStyle.Render("↑/↓: Select  R: Refresh  Q: Quit"))

	return info.String()
}

// plottedCount counts sites inside the current scope radius.
func (m model) plottedCount() int {
	n := 0
	for _, r := range m.sites {
		if r.Distance <= m.scopeRadius {
			n++
		}
	}
	return n
}
