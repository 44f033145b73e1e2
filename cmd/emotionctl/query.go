package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/emotion-monitor/internal/analytics"
	"github.com/hubenschmidt/emotion-monitor/internal/emotion"
)

type clientFunc func() *apiClient

func newRecentCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the most recent emotion events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := client().get(cmd.Context(), "/api/emotions/recent", url.Values{"limit": {strconv.Itoa(limit)}})
			if err != nil {
				return err
			}
			if asJSON() {
				return printRaw(cmd.OutOrStdout(), env.Data)
			}
			var events []emotion.Event
			if err = json.Unmarshal(env.Data, &events); err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events")
	return cmd
}

func newByDateCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "by-date YYYY-MM-DD",
		Short: "List every event recorded on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := client().get(cmd.Context(), "/api/emotions/by-date", url.Values{"date": {args[0]}})
			if err != nil {
				return err
			}
			if asJSON() {
				return printRaw(cmd.OutOrStdout(), env.Data)
			}
			var events []emotion.Event
			if err = json.Unmarshal(env.Data, &events); err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), events)
		},
	}
}

func newStatsCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-label counts and confidence for a trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := client().get(cmd.Context(), "/api/emotions/stats", url.Values{"hours": {strconv.Itoa(hours)}})
			if err != nil {
				return err
			}
			if asJSON() {
				return printRaw(cmd.OutOrStdout(), env.Data)
			}
			var st analytics.Stats
			if err = json.Unmarshal(env.Data, &st); err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "window size in hours")
	return cmd
}

func newHourlyCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "hourly",
		Short: "Show per-hour label counts for a date (default today)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if date != "" {
				q.Set("date", date)
			}
			env, err := client().get(cmd.Context(), "/api/emotions/hourly", q)
			if err != nil {
				return err
			}
			if asJSON() {
				return printRaw(cmd.OutOrStdout(), env.Data)
			}
			var hourly analytics.Hourly
			if err = json.Unmarshal(env.Data, &hourly); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "date: %s\n", env.Date)
			hours := make([]int, 0, len(hourly))
			for h := range hourly {
				hours = append(hours, h)
			}
			sort.Ints(hours)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HOUR\tCOUNTS")
			for _, h := range hours {
				fmt.Fprintf(tw, "%02d:00\t%s\n", h, formatCounts(hourly[h]))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD")
	return cmd
}

func newWeeklyCmd(client clientFunc, asJSON func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "Show daily totals for the last seven days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := client().get(cmd.Context(), "/api/emotions/weekly", nil)
			if err != nil {
				return err
			}
			if asJSON() {
				return printRaw(cmd.OutOrStdout(), env.Data)
			}
			var weekly analytics.Weekly
			if err = json.Unmarshal(env.Data, &weekly); err != nil {
				return err
			}
			dates := make([]string, 0, len(weekly))
			for d := range weekly {
				dates = append(dates, d)
			}
			sort.Strings(dates)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tTOTAL\tCOUNTS")
			for _, d := range dates {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", d, weekly[d].Total, formatCounts(weekly[d].Emotions))
			}
			return tw.Flush()
		},
	}
}

func newHealthCmd(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report monitor and database health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client()
			body, err := c.getRaw(cmd.Context(), c.base+"/api/health")
			if err != nil {
				return err
			}
			var h struct {
				Status   string `json:"status"`
				Database string `json:"database"`
				Session  string `json:"session"`
			}
			if err = json.Unmarshal(body, &h); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\ndatabase: %s\nsession: %s\n", h.Status, h.Database, h.Session)
			if h.Status != "healthy" {
				return fmt.Errorf("monitor is %s", h.Status)
			}
			return nil
		},
	}
}

func printRaw(w io.Writer, data json.RawMessage) error {
	_, err := fmt.Fprintln(w, string(data))
	return err
}

func printEvents(w io.Writer, events []emotion.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTIME\tLABEL\tCONFIDENCE\tSESSION")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n", ev.Date, ev.Time, ev.Label, ev.Confidence, ev.Metadata.SessionID)
	}
	return tw.Flush()
}

func printStats(w io.Writer, st analytics.Stats) error {
	dominant := "none"
	if st.DominantEmotion != nil {
		dominant = string(*st.DominantEmotion)
	}
	fmt.Fprintf(w, "window: %dh  detections: %d  dominant: %s\n", st.PeriodHours, st.TotalDetections, dominant)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tCOUNT\tAVG CONFIDENCE")
	for _, l := range emotion.Labels() {
		ls, ok := st.Emotions[l]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%.3f\n", l, ls.Count, ls.AvgConfidence)
	}
	return tw.Flush()
}

// formatCounts renders label counts in canonical label order.
func formatCounts(counts map[emotion.Label]int) string {
	out := ""
	for _, l := range emotion.Labels() {
		n, ok := counts[l]
		if !ok {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", l, n)
	}
	if out == "" {
		return "-"
	}
	return out
}
