// Command scale-node samples a load cell, logs the weights and ships
// them to an MQTT broker once a day.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/scale-node/internal/kv"
	"github.com/sweeney/scale-node/internal/sensor"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/telemetry"
	"github.com/sweeney/scale-node/internal/wifi"
)

const version = "0.3.0"

// exitRestart asks the supervisor to start the daemon again.
const exitRestart = 3

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:           "scale-node",
		Short:         "Load cell logger with daily MQTT upload",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFlag(cmd)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	stateCmd = &cobra.Command{
		Use:   "state",
		Short: "Print the persisted state and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigFlag(cmd)
			if err != nil {
				return err
			}
			return printState(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scale-node v%s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigPath, "Configuration file path")
	rootCmd.AddCommand(runCmd, stateCmd, versionCmd)
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errRestart):
		log.Printf("exiting for restart")
		os.Exit(exitRestart)
	default:
		log.Fatalf("fatal: %v", err)
	}
}

func loadConfigFlag(cmd *cobra.Command) (Config, error) {
	return LoadConfig(configFile, cmd.Flags().Changed("config"))
}

// printState reads the store and the log without starting anything.
// The daemon holds the store lock, so this only works while it is stopped.
func printState(ctx context.Context, w io.Writer, cfg Config) error {
	store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.Storage.KVDir})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return writeState(ctx, w, store, cfg.Storage.LogDir)
}

func writeState(ctx context.Context, w io.Writer, store kv.Store, logDir string) error {
	st := state.New(state.NewKVPersister(store), 0)
	if err := st.Restore(ctx); err != nil {
		return err
	}
	snap, err := st.Snapshot(ctx)
	if err != nil {
		return err
	}
	e := snap.Envio
	fmt.Fprintf(w, "cursor: %d\n", e.LastSentIndex)
	fmt.Fprintf(w, "dispatch: %02d:%02d\n", e.DispatchHour, e.DispatchMinute)
	fmt.Fprintf(w, "sampling: %d ms\n", e.SamplingIntervalMS)

	cal, err := sensor.LoadCalibration(ctx, store)
	switch {
	case err == nil:
		fmt.Fprintf(w, "calibration: offset=%d scale=%g\n", cal.Offset, cal.Scale)
	case errors.Is(err, sensor.ErrNotCalibrated):
		fmt.Fprintln(w, "calibration: none")
	default:
		return err
	}

	creds, err := wifi.NewCredentials(store).Load(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "networks: %d\n", len(creds))
	for _, c := range creds {
		fmt.Fprintf(w, "  %s\n", c.SSID)
	}

	if logDir == "" {
		return nil
	}
	if _, err := os.Stat(logDir); err != nil {
		fmt.Fprintln(w, "measurements: no log")
		return nil
	}
	tlog, err := telemetry.Open(logDir)
	if err != nil {
		return err
	}
	var count uint32
	err = tlog.WithLock(ctx, time.Second, func(tx *telemetry.Tx) error {
		count, err = tx.Count()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "measurements: %d (%d pending)\n", count, pendingAfter(count, e.LastSentIndex))
	return nil
}

func pendingAfter(count, cursor uint32) uint32 {
	if count <= cursor {
		return 0
	}
	return count - cursor
}
