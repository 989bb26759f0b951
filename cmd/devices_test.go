package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saferoam/core"
)

func TestNewDevicesCmd_Structure(t *testing.T) {
	cmd := NewDevicesCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "devices", cmd.Use)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["provision"])
	assert.True(t, names["deactivate"])
}

func TestProvisionCmd_RequiresDeviceID(t *testing.T) {
	cmd := NewDevicesCmd()
	cmd.SetArgs([]string{"provision"})
	err := cmd.Execute()
	assert.Error(t, err)
}

func TestRenderDevicesTable(t *testing.T) {
	// Render paths must not panic on empty and mixed-status input.
	renderDevicesTable(nil)
	renderDevicesTable([]core.Device{
		{DeviceID: "gw-01", DeviceType: "esp32_gateway", Status: core.DeviceStatusActive, LastSeen: time.Now()},
		{DeviceID: "gw-02", DeviceType: "ble_anchor", Status: core.DeviceStatusInactive},
	})
}

func TestOutputAsJSON(t *testing.T) {
	assert.NoError(t, outputAsJSON(map[string]string{"ok": "yes"}))
}
