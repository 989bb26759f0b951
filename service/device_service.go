// Package service provides the business logic layer between HTTP
// handlers and storage: device authentication, incident lifecycle,
// zone risk, tourist presence, and account auth.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"saferoam/core"
	"saferoam/storage"
)

// DeviceService authenticates field devices and manages their
// provisioning lifecycle. Devices are never deleted, only deactivated;
// authentication always consults current storage state so that a
// deactivation takes effect on the device's next submission.
type DeviceService struct {
	devices storage.DeviceStorage
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewDeviceService(devices storage.DeviceStorage, logger *zap.SugaredLogger) *DeviceService {
	if devices == nil {
		panic("devices storage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &DeviceService{devices: devices, logger: logger, now: time.Now}
}

// Authenticate verifies a device submission. Unknown device, key
// mismatch, and deactivated device all collapse into the same
// ErrAuthenticationFailed so callers cannot probe which devices exist.
func (ds *DeviceService) Authenticate(ctx context.Context, deviceID, apiKey string) (*core.Device, error) {
	device, err := ds.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return nil, core.ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(device.APIKey), []byte(apiKey)) != 1 {
		return nil, core.ErrAuthenticationFailed
	}
	if device.Status != core.DeviceStatusActive {
		return nil, core.ErrAuthenticationFailed
	}
	return device, nil
}

// Heartbeat authenticates the device and refreshes its status and
// last-seen time.
func (ds *DeviceService) Heartbeat(ctx context.Context, deviceID, apiKey string, status core.DeviceStatus) (*core.Device, error) {
	device, err := ds.Authenticate(ctx, deviceID, apiKey)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown device status %q", core.ErrValidationFailed, status)
	}
	seenAt := ds.now().UTC()
	if err := ds.devices.UpdateDeviceStatus(ctx, deviceID, status, seenAt); err != nil {
		return nil, fmt.Errorf("update device status: %w", err)
	}
	device.Status = status
	device.LastSeen = seenAt
	return device, nil
}

// Provision registers a new device and returns it with the generated
// API key. The key is shown exactly once, at provisioning time.
func (ds *DeviceService) Provision(ctx context.Context, deviceID, deviceType, locationName string) (*core.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", core.ErrValidationFailed)
	}
	if deviceType == "" {
		return nil, fmt.Errorf("%w: device_type is required", core.ErrValidationFailed)
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	device := &core.Device{
		DeviceID:     deviceID,
		APIKey:       apiKey,
		LocationName: locationName,
		DeviceType:   deviceType,
		Status:       core.DeviceStatusActive,
		CreatedAt:    ds.now().UTC(),
	}
	if err := ds.devices.CreateDevice(ctx, device); err != nil {
		return nil, err
	}

	ds.logger.Infow("Device provisioned", "device_id", deviceID, "device_type", deviceType)
	return device, nil
}

// Deactivate marks a device inactive. Subsequent submissions from it
// are rejected; its history is retained.
func (ds *DeviceService) Deactivate(ctx context.Context, deviceID string) error {
	device, err := ds.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := ds.devices.UpdateDeviceStatus(ctx, deviceID, core.DeviceStatusInactive, device.LastSeen); err != nil {
		return fmt.Errorf("deactivate device: %w", err)
	}
	ds.logger.Infow("Device deactivated", "device_id", deviceID)
	return nil
}

// List returns all provisioned devices.
func (ds *DeviceService) List(ctx context.Context) ([]core.Device, error) {
	return ds.devices.ListDevices(ctx)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
