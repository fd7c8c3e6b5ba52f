package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gosuri/uitable"

	v1 "github.com/domrelay/domrelay/pkg/apis/command/v1"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCommands(o *globalOptions, cmds []v1.Command) error {
	if o.output == "json" {
		return printJSON(o.out, cmds)
	}
	table := uitable.New()
	table.MaxColWidth = 48
	table.AddRow("ID", "DEVICE", "TYPE", "STATUS", "ATTEMPT", "VERDICT", "AGE")
	for _, c := range cmds {
		verdict := "-"
		if c.Verification != nil {
			verdict = string(c.Verification.Status)
		}
		table.AddRow(c.ID, c.DeviceID, c.Type, c.Status, c.Attempt, verdict, age(c.CreatedAt))
	}
	_, err := fmt.Fprintln(o.out, table)
	return err
}

func printCommand(o *globalOptions, c *v1.Command) error {
	if o.output == "json" {
		return printJSON(o.out, c)
	}
	table := uitable.New()
	table.Wrap = true
	table.MaxColWidth = 80
	table.AddRow("ID:", c.ID)
	table.AddRow("Device:", c.DeviceID)
	table.AddRow("Type:", c.Type)
	table.AddRow("Payload:", string(c.Payload))
	table.AddRow("Status:", c.Status)
	if c.StatusReason != "" {
		table.AddRow("Reason:", c.StatusReason)
	}
	if len(c.SuccessCriteria) > 0 {
		table.AddRow("Criteria:", strings.Join(c.SuccessCriteria, "; "))
	}
	if c.ClaimedBy != "" {
		table.AddRow("Claimed by:", c.ClaimedBy)
	}
	if c.ParentID != "" {
		table.AddRow("Parent:", fmt.Sprintf("%s (attempt %d)", c.ParentID, c.Attempt))
	}
	if r := c.Result; r != nil {
		table.AddRow("Result:", fmt.Sprintf("%s %s", r.Status, r.Reason))
		table.AddRow("URL:", fmt.Sprintf("%s -> %s", r.URLBefore, r.URLAfter))
		table.AddRow("Signals:", fmt.Sprintf("editor=%t length=%d last_line=%t",
			r.DomSignals.EditorDetected, r.DomSignals.ContentLength, r.DomSignals.LastLinePresent))
	}
	if c.Verification != nil {
		table.AddRow("Verdict:", fmt.Sprintf("%s (score %d)", c.Verification.Status, c.Verification.VerificationScore))
	}
	table.AddRow("Created:", c.CreatedAt.Format(time.RFC3339))
	_, err := fmt.Fprintln(o.out, table)
	return err
}

func printVerdict(o *globalOptions, v *v1.VerifierOutput) error {
	if o.output == "json" {
		return printJSON(o.out, v)
	}
	table := uitable.New()
	table.Wrap = true
	table.MaxColWidth = 80
	table.AddRow("Status:", v.Status)
	table.AddRow("Score:", v.VerificationScore)
	table.AddRow("Reason:", v.Reason)
	table.AddRow("Message:", v.FinalMessageToUser)
	if v.NewStrategyHint != "" {
		table.AddRow("Hint:", v.NewStrategyHint)
	}
	if len(v.MatchedCriteria) > 0 {
		table.AddRow("Matched:", strings.Join(v.MatchedCriteria, "; "))
	}
	if len(v.UnmetCriteria) > 0 {
		table.AddRow("Unmet:", strings.Join(v.UnmetCriteria, "; "))
	}
	_, err := fmt.Fprintln(o.out, table)
	return err
}

func printDevices(o *globalOptions, devices []v1.Device) error {
	if o.output == "json" {
		return printJSON(o.out, devices)
	}
	table := uitable.New()
	table.AddRow("DEVICE", "STATUS", "VERSION", "BROWSER", "LAST SEEN")
	for _, d := range devices {
		table.AddRow(d.ID, d.Status, d.Version, d.BrowserInfo, age(d.LastSeenAt))
	}
	_, err := fmt.Fprintln(o.out, table)
	return err
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}
