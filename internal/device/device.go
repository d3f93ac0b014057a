package device

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const storeKey = "device.id"

// Store persists the generated id so it survives restarts.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Manager resolves the identity sent as X-Device-ID with every request.
type Manager struct {
	store     Store
	machineID func() (string, error)
	logger    *zap.Logger
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		machineID: platformDeviceID,
		logger:    logger,
	}
}

// Resolve returns the configured id if set, else a previously stored id,
// else the platform machine id, else a fresh UUID. Anything derived is
// stored for next time.
func (m *Manager) Resolve(ctx context.Context, configured string) (string, error) {
	if id := strings.TrimSpace(configured); id != "" {
		return id, nil
	}

	stored, ok, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && len(stored) > 0 {
		return string(stored), nil
	}

	id, err := m.machineID()
	if err != nil || id == "" {
		m.logger.Info("No platform device id, generating one", zap.Error(err))
		id = uuid.NewString()
	}

	if err := m.store.Put(ctx, storeKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	m.logger.Info("Device id resolved", zap.String("device_id", id))
	return id, nil
}

func platformDeviceID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return windowsDeviceID()
	case "darwin":
		return darwinDeviceID()
	case "linux":
		return linuxDeviceID()
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func windowsDeviceID() (string, error) {
	output, err := exec.Command("wmic", "csproduct", "get", "uuid").Output()
	if err != nil {
		return "", fmt.Errorf("wmic failed: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "UUID" && len(line) > 10 {
			return line, nil
		}
	}
	return "", fmt.Errorf("could not determine Windows device ID")
}

func darwinDeviceID() (string, error) {
	output, err := exec.Command("system_profiler", "SPHardwareDataType").Output()
	if err != nil {
		return "", fmt.Errorf("system_profiler failed: %w", err)
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, "Hardware UUID") {
			if _, v, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(v), nil
			}
		}
	}
	return "", fmt.Errorf("could not determine macOS device ID")
}

func linuxDeviceID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if b, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("could not determine Linux device ID")
}
