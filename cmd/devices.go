// Package cmd provides command-line interface commands for SafeRoam.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"saferoam/config"
	"saferoam/core"
	"saferoam/service"
	"saferoam/storage"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for devices commands
var (
	outputJSON bool
	noColor    bool
)

const defaultTimeout = 30 * time.Second

// NewDevicesCmd creates the root devices command with all subcommands.
func NewDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage field devices",
		Long: `Provision, list, and deactivate field reporting devices.

Devices authenticate their submissions with an API key generated at
provisioning time. The key is printed exactly once; store it in the
device firmware configuration.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	devicesCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	devicesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	devicesCmd.AddCommand(newListCmd())
	devicesCmd.AddCommand(newProvisionCmd())
	devicesCmd.AddCommand(newDeactivateCmd())

	return devicesCmd
}

// initDeviceService opens storage and builds the device service for a
// CLI invocation. The returned cleanup closes the database.
func initDeviceService() (*service.DeviceService, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := zap.NewNop().Sugar()
	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	svc := service.NewDeviceService(storage.NewSQLiteDeviceStorage(sqlite, logger), logger)
	cleanup := func() { sqlite.Close() }
	return svc, cleanup, nil
}

func newListCmd() *cobra.Command {
	var showInactive bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List provisioned devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			svc, cleanup, err := initDeviceService()
			if err != nil {
				return err
			}
			defer cleanup()

			devices, err := svc.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}

			if !showInactive {
				var filtered []core.Device
				for _, d := range devices {
					if d.Status == core.DeviceStatusActive {
						filtered = append(filtered, d)
					}
				}
				devices = filtered
			}

			if outputJSON {
				return outputAsJSON(devices)
			}
			renderDevicesTable(devices)
			return nil
		},
	}

	cmd.Flags().BoolVar(&showInactive, "all", false, "Include deactivated devices")
	return cmd
}

func newProvisionCmd() *cobra.Command {
	var deviceType string
	var locationName string

	cmd := &cobra.Command{
		Use:   "provision <device-id>",
		Short: "Provision a new device",
		Long:  "Register a new device and print its generated API key. The key is shown only once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			svc, cleanup, err := initDeviceService()
			if err != nil {
				return err
			}
			defer cleanup()

			device, err := svc.Provision(ctx, args[0], deviceType, locationName)
			if err != nil {
				errorColor.Fprintf(os.Stderr, "Provisioning failed: %v\n", err)
				return err
			}

			if outputJSON {
				return outputAsJSON(map[string]interface{}{
					"device":  device,
					"api_key": device.APIKey,
				})
			}

			successColor.Printf("Device %s provisioned\n", device.DeviceID)
			infoColor.Printf("API key: %s\n", device.APIKey)
			warningColor.Println("Store this key now; it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceType, "type", "esp32_gateway", "Device type")
	cmd.Flags().StringVar(&locationName, "location", "", "Human-readable device location")
	return cmd
}

func newDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <device-id>",
		Short: "Deactivate a device",
		Long:  "Mark a device inactive. Its submissions are rejected from the next request on; history is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			svc, cleanup, err := initDeviceService()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svc.Deactivate(ctx, args[0]); err != nil {
				errorColor.Fprintf(os.Stderr, "Deactivation failed: %v\n", err)
				return err
			}
			successColor.Printf("Device %s deactivated\n", args[0])
			return nil
		},
	}
}

func outputAsJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderDevicesTable(devices []core.Device) {
	if len(devices) == 0 {
		warningColor.Println("No devices found")
		return
	}

	headerColor.Printf("%-20s %-16s %-10s %-25s %s\n", "DEVICE ID", "TYPE", "STATUS", "LAST SEEN", "LOCATION")
	for _, d := range devices {
		lastSeen := "never"
		if !d.LastSeen.IsZero() {
			lastSeen = d.LastSeen.Format(time.RFC3339)
		}
		line := fmt.Sprintf("%-20s %-16s %-10s %-25s %s", d.DeviceID, d.DeviceType, d.Status, lastSeen, d.LocationName)
		if d.Status == core.DeviceStatusActive {
			fmt.Println(line)
		} else {
			warningColor.Println(line)
		}
	}
}
