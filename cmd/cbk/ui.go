package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		text := strings.TrimSpace(string(raw))
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderDashboard(out map[string]any) error {
	actor, _ := out["actor"].(map[string]any)
	if actor == nil {
		return renderKV(out)
	}
	name, _ := actor["display_name"].(string)
	if name == "" {
		name, _ = actor["id"].(string)
	}
	accent.Printf("%s\n", name)
	fmt.Printf("  cash:   %d\n", intField(actor, "cash_balance"))
	fmt.Printf("  tokens: %d\n", intField(actor, "token_balance"))

	proposals, _ := out["proposals"].([]any)
	if len(proposals) == 0 {
		return nil
	}
	accent.Println("\nProposals")
	for _, p := range proposals {
		renderProposalRow(p)
	}
	return nil
}

func renderProposalList(out map[string]any) error {
	proposals, _ := out["proposals"].([]any)
	if len(proposals) == 0 {
		printInfo("No proposals.")
		return nil
	}
	for _, p := range proposals {
		renderProposalRow(p)
	}
	return nil
}

func renderProposalRow(v any) {
	p, ok := v.(map[string]any)
	if !ok {
		return
	}
	tally, _ := p["tally"].(map[string]any)
	status, _ := p["status"].(string)
	line := fmt.Sprintf("  %-24s %-28s approvals=%d disapprovals=%d",
		stringField(p, "id"), status, intField(tally, "approvals"), intField(tally, "disapprovals"))
	switch status {
	case "approved", "veto_overridden":
		success.Println(line)
	case "rejected", "auto_rejected", "vetoed":
		danger.Println(line)
	default:
		fmt.Println(line)
	}
}

func renderProposal(p map[string]any) error {
	accent.Printf("%s\n", stringField(p, "title"))
	fmt.Printf("  id:       %s\n", stringField(p, "id"))
	fmt.Printf("  status:   %s\n", stringField(p, "status"))
	fmt.Printf("  round:    %d\n", intField(p, "round"))
	if fine := intField(p, "fine"); fine > 0 {
		fmt.Printf("  fine:     %d\n", fine)
	}
	if tally, ok := p["tally"].(map[string]any); ok {
		fmt.Printf("  votes:    %d approve / %d disapprove\n",
			intField(tally, "approvals"), intField(tally, "disapprovals"))
	}
	if deadline, ok := p["veto_deadline"].(string); ok && deadline != "" {
		warn.Printf("  override vote open until %s\n", deadline)
	}
	return nil
}

func renderGoal(g map[string]any) error {
	accent.Printf("%s\n", stringField(g, "title"))
	fmt.Printf("  progress: %d / %d\n", intField(g, "progress"), intField(g, "target_amount"))
	contributions, _ := g["contributions"].([]any)
	for _, c := range contributions {
		entry, ok := c.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-16s %6d", stringField(entry, "actor_id"), intField(entry, "amount"))
		if msg := stringField(entry, "message"); msg != "" {
			line += "  " + msg
		}
		fmt.Println(line)
	}
	return nil
}

func renderKV(out map[string]any) error {
	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-24s %v\n", k+":", out[k])
	}
	return nil
}

// actorBalances extracts the numeric balances from a dashboard payload for
// the optimistic local view.
func actorBalances(dash map[string]any) map[string]int64 {
	actor, _ := dash["actor"].(map[string]any)
	return map[string]int64{
		"cash_balance":   intField(actor, "cash_balance"),
		"token_balance":  intField(actor, "token_balance"),
		"tokens_balance": intField(actor, "token_balance"),
	}
}

func intField(m map[string]any, key string) int64 {
	if m == nil {
		return 0
	}
	if v, ok := m[key].(float64); ok {
		return int64(v)
	}
	return 0
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
