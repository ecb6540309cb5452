package usage

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// liveFeedInterval is how often the websocket feed pushes a fresh snapshot.
const liveFeedInterval = 2 * time.Second

// HandleDashboard serves the spend dashboard HTML page.
func (t *Tracker) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	sessions := t.Snapshot()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUpdated.After(sessions[j].LastUpdated)
	})

	var totalRequests int
	for _, s := range sessions {
		totalRequests += s.RequestCount
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>Maya Bot - Usage Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: 'SF Mono', 'Fira Code', 'Cascadia Code', monospace; background: #0d1117; color: #c9d1d9; padding: 24px; }
  h1 { color: #58a6ff; font-size: 18px; margin-bottom: 16px; }
  .summary { display: flex; gap: 24px; margin-bottom: 24px; padding: 16px; background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
  .stat-label { font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; }
  .stat-value { font-size: 24px; font-weight: bold; color: #f0f6fc; }
  .stat-value.cost { color: #ffa657; }
  table { width: 100%; border-collapse: collapse; background: #161b22; border: 1px solid #30363d; border-radius: 6px; overflow: hidden; }
  th { text-align: left; padding: 10px 14px; font-size: 11px; color: #8b949e; text-transform: uppercase; letter-spacing: 1px; background: #0d1117; border-bottom: 1px solid #30363d; }
  td { padding: 10px 14px; font-size: 13px; border-bottom: 1px solid #21262d; }
  tr:last-child td { border-bottom: none; }
  .user-id { color: #58a6ff; }
  .model { color: #d2a8ff; }
  .cost { color: #ffa657; font-weight: bold; }
  .empty { text-align: center; padding: 40px; color: #8b949e; }
  .footer { margin-top: 16px; font-size: 11px; color: #484f58; }
</style>
</head>
<body>
<h1>Maya Bot - Usage Dashboard</h1>
<div class="summary">
  <div class="stat">
    <div class="stat-label">Total Spend</div>
    <div class="stat-value cost">`)
	fmt.Fprintf(&b, "$%.4f", t.GlobalCost())
	b.WriteString(`</div>
  </div>
  <div class="stat">
    <div class="stat-label">Active Users</div>
    <div class="stat-value">`)
	fmt.Fprintf(&b, "%d", len(sessions))
	b.WriteString(`</div>
  </div>
  <div class="stat">
    <div class="stat-label">Total Requests</div>
    <div class="stat-value">`)
	fmt.Fprintf(&b, "%d", totalRequests)
	b.WriteString(`</div>
  </div>
</div>
`)

	if len(sessions) == 0 {
		b.WriteString(`<div class="empty">No activity yet. Users will appear here as they chat with the bot.</div>`)
	} else {
		b.WriteString(`<table>
<tr>
  <th>User</th>
  <th>Model</th>
  <th>Requests</th>
  <th>Tokens In / Out</th>
  <th>Cost</th>
  <th>Last Activity</th>
</tr>
`)
		for _, s := range sessions {
			fmt.Fprintf(&b, `<tr>
  <td class="user-id">%d</td>
  <td class="model">%s</td>
  <td>%d</td>
  <td>%d / %d</td>
  <td class="cost">$%.4f</td>
  <td>%s</td>
</tr>
`, s.UserID, s.Model, s.RequestCount, s.InputTokens, s.OutputTokens, s.Cost, formatAgo(time.Since(s.LastUpdated)))
		}
		b.WriteString(`</table>`)
	}

	b.WriteString(`
<div class="footer">Auto-refreshes every 5 seconds; /live streams snapshots over websocket</div>
</body>
</html>`)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// HandleLive streams spend snapshots over a websocket until the client
// disconnects. Intended for ops tooling that wants updates without polling.
func (t *Tracker) HandleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dashboard: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(liveFeedInterval)
	defer ticker.Stop()

	for {
		snapshot := map[string]any{
			"global_cost": t.GlobalCost(),
			"sessions":    t.Snapshot(),
			"time":        time.Now().Format(time.RFC3339),
		}
		if err := wsjson.Write(ctx, conn, snapshot); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func formatAgo(ago time.Duration) string {
	switch {
	case ago < time.Minute:
		return fmt.Sprintf("%ds ago", int(ago.Seconds()))
	case ago < time.Hour:
		return fmt.Sprintf("%dm ago", int(ago.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(ago.Hours()))
	}
}
