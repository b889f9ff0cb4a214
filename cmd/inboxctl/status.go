package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/inbox/internal/lock"
	"github.com/matheus3301/inbox/internal/session"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		ctx, cancel := withTimeout(cmd)
		defer cancel()

		st, err := e.client.Status(ctx)
		if err != nil {
			return fmt.Errorf("cannot reach daemon for session %q at %s: %w", e.session, e.client.Base(), err)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, st)
		}
		w := newTable(out)
		fmt.Fprintf(w, "Session:\t%s\n", st.Session)
		fmt.Fprintf(w, "Agent:\t%s\n", orDash(st.Agent))
		fmt.Fprintf(w, "Status:\t%s (since %s)\n", st.State, ago(st.Since))
		fmt.Fprintf(w, "Uptime:\t%s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Fprintf(w, "Daemon:\t%s\n", e.client.Base())
		fmt.Fprintf(w, "Subscribers:\t%d\n", st.Subscribers)
		fmt.Fprintf(w, "Dropped events:\t%s\n", humanize.Comma(st.DroppedEvents))
		fmt.Fprintf(w, "Open:\t%d\n", st.Counters.Open)
		fmt.Fprintf(w, "Unassigned:\t%d\n", st.Counters.Unassigned)
		return w.Flush()
	},
}

type sessionInfo struct {
	Name    string       `json:"name"`
	Path    string       `json:"path"`
	Running bool         `json:"running"`
	Holder  *lock.Holder `json:"holder,omitempty"`
	DBSize  int64        `json:"db_size"`
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := session.List()
		if err != nil {
			return err
		}
		var infos []sessionInfo
		for _, name := range names {
			info := sessionInfo{Name: name, Path: session.Dir(name)}
			if h, err := lock.Inspect(session.LockPath(name)); err == nil {
				info.Running = true
				info.Holder = &h
			}
			if fi, err := os.Stat(session.DBPath(name)); err == nil {
				info.DBSize = fi.Size()
			}
			infos = append(infos, info)
		}
		out := cmd.OutOrStdout()
		if flagJSON {
			return writeJSON(out, infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		w := newTable(out)
		fmt.Fprintln(w, "NAME\tSTATE\tPID\tADDR\tDB")
		for _, s := range infos {
			state, pid, addr := "stopped", "-", "-"
			if s.Holder != nil {
				state, pid, addr = "running", fmt.Sprint(s.Holder.PID), orDash(s.Holder.Addr)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, state, pid, addr, humanize.Bytes(uint64(s.DBSize)))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, sessionsCmd)
}
