package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hray3182/followup/internal/config"
	"github.com/hray3182/followup/internal/followup"
	"github.com/hray3182/followup/internal/models"
	"github.com/hray3182/followup/internal/rrule"
	"github.com/hray3182/followup/internal/schedule"
)

const timeLayout = "2006-01-02 15:04 MST"

var generatorCmd = &cobra.Command{
	Use:     "generator",
	Aliases: []string{"gen"},
	Short:   "Manage follow-up generators",
}

var (
	genOwner       string
	genName        string
	genID          string
	genHook        string
	genDescription string
	genMessage     string
	genData        string
	genChannels    []string
	genRRule       string
	genStart       string
	genTimezone    string
	genInfinite    bool
	genPastEvents  string
	genExhausted   bool
	genAddCount    int
	genUntil       string
	genLimit       int
	genCount       int
)

var generatorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a generator from an RRULE",
	Example: `  followupd generator create --owner u1 --name water \
    --rrule "FREQ=WEEKLY;BYDAY=MO,WE,FR;COUNT=10" --start "2025-04-14 09:00" \
    --message "**Drink** water" --channel log \
    --channel '{"type":"http","config":{"url":"https://example.com/hook"}}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		rule, err := ruleFromFlags(a.cfg.Timezone)
		if err != nil {
			return err
		}
		channels, err := parseChannels(genChannels)
		if err != nil {
			return err
		}
		data, err := parseData(genData)
		if err != nil {
			return err
		}

		created, err := a.svc.Create(cmd.Context(), models.GeneratorInput{
			OwnerID:     genOwner,
			HookID:      genHook,
			Name:        genName,
			Description: genDescription,
			Channels:    channels,
			Message:     genMessage,
			Data:        data,
			Rule:        rule,
			PastEvents:  schedule.PastEvents(genPastEvents),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), created)
	},
}

var generatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's active or exhausted generators",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		gens, err := a.svc.List(cmd.Context(), genOwner, !genExhausted)
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no generators")
			return nil
		}
		writeGenerators(cmd.OutOrStdout(), gens)
		return nil
	},
}

var generatorDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a generator by id, or by --owner and --name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := followup.DeleteTarget{OwnerID: genOwner, Name: genName}
		if len(args) == 1 {
			target.ID = args[0]
		}

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		id, err := a.svc.Delete(cmd.Context(), target)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		return nil
	},
}

var generatorExtendCmd = &cobra.Command{
	Use:   "extend <id>",
	Short: "Add occurrences or move the until bound of a generator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var addCount *int
		if cmd.Flags().Changed("add-count") {
			addCount = &genAddCount
		}

		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		var until *time.Time
		if genUntil != "" {
			loc, err := time.LoadLocation(a.cfg.Timezone)
			if err != nil {
				return err
			}
			u, err := parseTime(genUntil, loc)
			if err != nil {
				return err
			}
			until = &u
		}

		g, err := a.svc.UpdateExhaustionRule(cmd.Context(), args[0], addCount, until)
		if err != nil {
			return err
		}
		writeGenerators(cmd.OutOrStdout(), []*models.FollowupGenerator{g})
		return nil
	},
}

var generatorHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the latest follow-ups of a generator and their responses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer a.close()

		fups, err := a.followups.History(cmd.Context(), args[0], genLimit)
		if err != nil {
			return err
		}
		out := make([]historyEntry, 0, len(fups))
		for _, f := range fups {
			out = append(out, historyEntry{ID: f.ID, Date: f.Date, Message: f.Message, Responses: f.Responses()})
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var generatorPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print upcoming occurrences of an RRULE without storing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rule, err := ruleFromFlags(cfg.Timezone)
		if err != nil {
			return err
		}
		return writePreview(cmd.OutOrStdout(), rule, genCount)
	},
}

// writePreview prints the rule description and its first n occurrences,
// starting with dtstart itself when it matches the rule.
func writePreview(w io.Writer, rule rrule.Rule, n int) error {
	rec, err := rrule.New(rule)
	if err != nil {
		return err
	}
	rule = rec.Rule()
	fmt.Fprintln(w, rrule.Describe(rule))
	for _, at := range rec.Upcoming(rule.Dtstart, n, true) {
		fmt.Fprintf(w, "  %s\n", at.Format(timeLayout))
	}
	return nil
}

type historyEntry struct {
	ID        string                     `json:"id"`
	Date      time.Time                  `json:"date"`
	Message   string                     `json:"message"`
	Responses map[string]models.Response `json:"responses"`
}

func init() {
	for _, c := range []*cobra.Command{generatorCreateCmd, generatorListCmd, generatorDeleteCmd} {
		c.Flags().StringVar(&genOwner, "owner", "", "owner id")
	}
	for _, c := range []*cobra.Command{generatorCreateCmd, generatorDeleteCmd} {
		c.Flags().StringVar(&genName, "name", "", "generator name, unique per owner")
	}
	for _, c := range []*cobra.Command{generatorCreateCmd, generatorPreviewCmd} {
		c.Flags().StringVar(&genRRule, "rrule", "", "RFC 5545 rule, e.g. FREQ=DAILY;COUNT=5")
		c.Flags().StringVar(&genStart, "start", "", "first occurrence (RFC 3339 or 2006-01-02 15:04), default now")
		c.Flags().StringVar(&genTimezone, "timezone", "", "IANA timezone of the rule, default TIMEZONE")
		c.Flags().BoolVar(&genInfinite, "infinite", false, "allow a rule without COUNT or UNTIL")
		_ = c.MarkFlagRequired("rrule")
	}

	generatorCreateCmd.Flags().StringVar(&genHook, "hook", "", "hook id passed through to channels")
	generatorCreateCmd.Flags().StringVar(&genDescription, "description", "", "description")
	generatorCreateCmd.Flags().StringVar(&genMessage, "message", "", "message body, markdown allowed")
	generatorCreateCmd.Flags().StringVar(&genData, "data", "", "JSON object attached to every follow-up")
	generatorCreateCmd.Flags().StringArrayVar(&genChannels, "channel", nil, `channel type or JSON, e.g. log or {"type":"telegram","config":{"chat_id":"1"}}`)
	generatorCreateCmd.Flags().StringVar(&genPastEvents, "past-events", string(schedule.PastEventsLastOnly), "all, lastonly or none")
	_ = generatorCreateCmd.MarkFlagRequired("owner")
	_ = generatorCreateCmd.MarkFlagRequired("name")

	generatorListCmd.Flags().BoolVar(&genExhausted, "exhausted", false, "list exhausted generators instead of active ones")
	_ = generatorListCmd.MarkFlagRequired("owner")

	generatorExtendCmd.Flags().IntVar(&genAddCount, "add-count", 0, "occurrences to add")
	generatorExtendCmd.Flags().StringVar(&genUntil, "until", "", "new until bound")

	generatorHistoryCmd.Flags().IntVar(&genLimit, "limit", 20, "number of follow-ups")
	generatorPreviewCmd.Flags().IntVar(&genCount, "count", 10, "number of occurrences")

	generatorCmd.AddCommand(generatorCreateCmd)
	generatorCmd.AddCommand(generatorListCmd)
	generatorCmd.AddCommand(generatorDeleteCmd)
	generatorCmd.AddCommand(generatorExtendCmd)
	generatorCmd.AddCommand(generatorHistoryCmd)
	generatorCmd.AddCommand(generatorPreviewCmd)
}

func ruleFromFlags(defaultTZ string) (rrule.Rule, error) {
	tz := genTimezone
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return rrule.Rule{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	start := time.Now().In(loc).Truncate(time.Minute)
	if genStart != "" {
		if start, err = parseTime(genStart, loc); err != nil {
			return rrule.Rule{}, err
		}
	}
	return rrule.ParseRule(genRRule, start, tz, genInfinite)
}

// parseTime accepts RFC 3339 or a local date with optional minutes in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q: expected RFC 3339 or 2006-01-02 15:04", s)
}

func parseChannels(values []string) ([]models.Channel, error) {
	channels := make([]models.Channel, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !strings.HasPrefix(v, "{") {
			channels = append(channels, models.Channel{Type: v})
			continue
		}
		var ch models.Channel
		if err := json.Unmarshal([]byte(v), &ch); err != nil {
			return nil, fmt.Errorf("invalid channel %s: %w", v, err)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func parseData(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return data, nil
}

func writeGenerators(w io.Writer, gens []*models.FollowupGenerator) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNEXT RUN\tREMAINING\tSTATUS\tRULE")
	for _, g := range gens {
		next, remaining, status := "-", "-", "active"
		if g.State.NextRun != nil {
			next = g.State.NextRun.Format(timeLayout)
		}
		if g.State.Remaining != nil {
			remaining = strconv.Itoa(*g.State.Remaining)
		}
		if g.Exhausted {
			status = "exhausted"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", g.ID, g.Name, next, remaining, status, rrule.Describe(g.Rule))
	}
	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
