package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	_ "github.com/mattn/go-sqlite3"

	"github.com/stupiduntilnot/pixelchat/internal/config"
	"github.com/stupiduntilnot/pixelchat/internal/db"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Render the event log as a tree",
	Long: `Render a request's event subtree from the events table. Every API
request logs a root event with its billing, context and provider
events as children. Without --id the most recent request root is shown.`,
	RunE: runEvents,
}

var (
	eventsID        int64
	eventsDepth     int
	eventsJSON      bool
	eventsNoPayload bool
)

func init() {
	eventsCmd.Flags().Int64Var(&eventsID, "id", 0, "show subtree of a specific event id")
	eventsCmd.Flags().IntVarP(&eventsDepth, "depth", "L", 0, "limit display depth (0 = unlimited)")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "output JSON")
	eventsCmd.Flags().BoolVar(&eventsNoPayload, "no-payload", false, "hide payload details")
	rootCmd.AddCommand(eventsCmd)
}

// event is a row from the events table plus its resolved children.
type event struct {
	ID        int64
	Timestamp int64
	ParentID  sql.NullInt64
	EventType string
	Payload   sql.NullString
	Children  []*event
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := sql.Open("sqlite3", cfg.DBPath+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Ping(); err != nil {
		return err
	}

	rootID := eventsID
	if rootID == 0 {
		rootID, err = latestRequestRoot(database)
		if err != nil {
			return err
		}
	}

	events, err := querySubtree(database, rootID)
	if err != nil {
		return err
	}
	root := buildTree(events, rootID)
	if root == nil {
		return fmt.Errorf("event %d not found", rootID)
	}

	if eventsJSON {
		return printJSON(root)
	}
	printTree(root, "", true, 1)
	return nil
}

// latestRequestRoot finds the newest request root event.
func latestRequestRoot(database *sql.DB) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE event_type = ? ORDER BY id DESC LIMIT 1`,
		db.EventMessageReceived,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no %s event found", db.EventMessageReceived)
	}
	return id, err
}

// querySubtree returns all events under rootID using a recursive CTE.
func querySubtree(database *sql.DB, rootID int64) ([]*event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*event
	for rows.Next() {
		ev := &event{}
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func buildTree(events []*event, rootID int64) *event {
	byID := make(map[int64]*event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	for _, ev := range events {
		if ev.ParentID.Valid && ev.ParentID.Int64 != ev.ID {
			if parent, ok := byID[ev.ParentID.Int64]; ok {
				parent.Children = append(parent.Children, ev)
			}
		}
	}
	for _, ev := range events {
		sort.Slice(ev.Children, func(i, j int) bool {
			return ev.Children[i].ID < ev.Children[j].ID
		})
	}
	return byID[rootID]
}

func printTree(ev *event, prefix string, isLast bool, depth int) {
	connector := "├── "
	if isLast {
		connector = "└── "
	}
	line := formatEvent(ev)
	if depth == 1 {
		fmt.Println(line)
	} else {
		fmt.Println(prefix + connector + line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	if eventsDepth > 0 && depth >= eventsDepth {
		if len(ev.Children) > 0 {
			fmt.Println(childPrefix + "└── [...]")
		}
		return
	}
	for i, child := range ev.Children {
		printTree(child, childPrefix, i == len(ev.Children)-1, depth+1)
	}
}

// formatEvent formats one line: [id] timestamp  event_type  key=value ...
func formatEvent(ev *event) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("[%d] %s  %s", ev.ID, ts, ev.EventType)

	if !eventsNoPayload && ev.Payload.Valid && ev.Payload.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(ev.Payload.String), &m); err == nil {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				line += fmt.Sprintf("  %s=%s", k, formatValue(m[k]))
			}
		}
	}
	return line
}

// formatValue renders a payload value, truncating long text.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if len(val) > 80 {
			return fmt.Sprintf("%q", val[:80]+"...")
		}
		return fmt.Sprintf("%v", val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"timestamp"`
	EventType string      `json:"event_type"`
	Payload   any         `json:"payload,omitempty"`
	Children  []jsonEvent `json:"children,omitempty"`
}

func toJSONEvent(ev *event, depth int) jsonEvent {
	je := jsonEvent{
		ID:        ev.ID,
		Timestamp: ev.Timestamp,
		EventType: ev.EventType,
	}
	if !eventsNoPayload && ev.Payload.Valid && ev.Payload.String != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(ev.Payload.String), &m); err == nil {
			je.Payload = m
		}
	}
	if eventsDepth > 0 && depth >= eventsDepth {
		return je
	}
	for _, child := range ev.Children {
		je.Children = append(je.Children, toJSONEvent(child, depth+1))
	}
	return je
}

func printJSON(root *event) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSONEvent(root, 1))
}
