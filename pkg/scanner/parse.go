package scanner

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// LogRow is one row extracted from the activity results table.
type LogRow struct {
	Time        string `json:"time"`
	Event       string `json:"event"`
	Duration    string `json:"duration"`
	Status      string `json:"status"`
	Location    string `json:"location"`
	Odometer    string `json:"odometer,omitempty"`
	EngineHours string `json:"engine_hours,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// calendarCellRE matches bare day-of-month numbers that leak into the
// table when a date picker widget renders inside the results pane.
var calendarCellRE = regexp.MustCompile(`^\d{1,2}$`)

// ParseLogRows extracts activity rows from a rendered results table.
// The dashboard renders one of three markups depending on the view:
// a custom .patch-table-row grid, an Ant Design .ant-table-row table,
// or a plain table body. Rows with fewer than five cells and calendar
// artifacts are skipped.
func ParseLogRows(fragment string) ([]LogRow, error) {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, err
	}

	rows := collectRows(root, func(n *html.Node) bool {
		return hasClass(n, "patch-table-row") && !hasClass(n, "patch-table-header")
	})
	if len(rows) == 0 {
		rows = collectRows(root, func(n *html.Node) bool {
			return hasClass(n, "ant-table-row")
		})
	}
	if len(rows) == 0 {
		rows = collectRows(root, func(n *html.Node) bool {
			return n.Data == "tr" && !hasAncestor(n, "thead")
		})
	}

	logs := make([]LogRow, 0, len(rows))
	for _, row := range rows {
		cells := cellTexts(row)
		if len(cells) < 5 {
			continue
		}

		timeText, eventText := cells[0], cells[1]
		if timeText == "" && eventText == "" {
			continue
		}
		if calendarCellRE.MatchString(timeText) && calendarCellRE.MatchString(eventText) {
			continue
		}

		entry := LogRow{
			Time:     timeText,
			Event:    eventText,
			Duration: cells[2],
			Status:   cells[3],
			Location: cells[4],
		}
		if len(cells) >= 6 {
			entry.Odometer = cells[5]
		}
		if len(cells) >= 7 {
			entry.EngineHours = cells[6]
		}
		if len(cells) >= 8 {
			entry.Notes = cells[7]
		}
		logs = append(logs, entry)
	}

	return logs, nil
}

// collectRows walks the tree and returns nodes matching the predicate.
// Matched nodes are not descended into, a row never nests another row.
func collectRows(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var rows []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			rows = append(rows, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return rows
}

// cellTexts returns the trimmed text of each cell in a row. Table rows
// use td elements; the custom grid uses direct element children.
func cellTexts(row *html.Node) []string {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	if len(cells) == 0 {
		for c := row.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				cells = append(cells, c)
			}
		}
	}

	texts := make([]string, len(cells))
	for i, cell := range cells {
		texts[i] = strings.TrimSpace(nodeText(cell))
	}
	return texts
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func hasAncestor(n *html.Node, tag string) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return true
		}
	}
	return false
}
