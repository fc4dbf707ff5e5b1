package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stuffa/envsensor/at"
)

// FOTA notification payloads.
const (
	fotaDone      = "Update successfully"
	fotaNoPackage = "No update package"
)

// settingsQueries are the diagnostic queries run by CheckSettings.
var settingsQueries = []Command{
	NewCommand("AT+CGMR", "firmware version"),
	NewCommand("AT+CPIN?", "SIM status"),
	NewCommand("AT+CSQ", "signal quality"),
	NewCommand("AT+CEREG?", "network registration"),
	NewCommand("AT+CGACT?", "PDP context state"),
	NewCommand("AT+COPS?", "operator"),
	NewCommand("AT+CGCONTRDP", "assigned addresses"),
	NewCommand("AT+CREVHEX?", "data mode"),
	NewCommand("AT+CFUN?", "radio functionality"),
	NewCommand("AT+CGATT?", "network attachment"),
	NewCommand("AT+CGDCONT?", "PDP context definition"),
	NewCommand("AT+CMQNEW?", "MQTT clients"),
	NewCommand("AT+CMQCON?", "MQTT connections"),
}

// FactoryReset restores the modem's factory profile, re-applies the settings
// the sensor relies on and saves them. The modem is left disabled whatever
// the outcome.
func (m *Modem) FactoryReset(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.factoryReset(ctx)
	m.disable()
	if err != nil {
		m.logger.Warn("factory reset failed", "error", err)
		return false
	}
	m.logger.Info("factory reset complete")
	return true
}

func (m *Modem) factoryReset(ctx context.Context) error {
	m.setState(Disabled)
	m.cid = ""

	if err := m.wakeup(ctx); err != nil {
		return fmt.Errorf("wake up: %w", err)
	}
	if err := m.waitForAT(ctx); err != nil {
		return err
	}
	m.engine.Flush()
	if err := m.checkPIN(); err != nil {
		return err
	}

	// AT&F resets the UART settings too, so its OK is often lost.
	if _, err := m.send("AT&F", "reset to factory profile"); err != nil {
		var timeout *CommandTimeout
		if !errors.As(err, &timeout) {
			return fmt.Errorf("reset: %w", err)
		}
		m.logger.Debug("no reply to factory reset", "error", err)
	}
	if err := pause(ctx, m.config.SettleDelay); err != nil {
		return err
	}
	m.engine.Flush()
	if err := m.waitForAT(ctx); err != nil {
		return err
	}

	steps := []Command{NewCommand("ATE1", "enable echo")}
	if m.config.PDPType != "" {
		steps = append(steps, NewCommand("AT*MCGDEFCONT="+at.Quote(m.config.PDPType), "set PDP type"))
	}
	steps = append(steps, NewCommand("AT+CNMI=0,0,0,0,0", "disable SMS notifications"))
	for _, cmd := range steps {
		if _, err := m.engine.Send(cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd.Label, err)
		}
	}

	if _, err := m.send("AT&W", "save profile"); err != nil {
		m.logger.Warn("could not save profile", "error", err)
	}
	return nil
}

// FirmwareVersion returns the modem firmware revision, or "" when it cannot
// be read.
func (m *Modem) FirmwareVersion(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.powered(); err != nil {
		m.logger.Warn("cannot read firmware version", "error", err)
		return ""
	}
	v, err := m.firmwareVersion()
	if err != nil {
		m.logger.Warn("firmware version query failed", "error", err)
		return ""
	}
	return v
}

func (m *Modem) firmwareVersion() (string, error) {
	const cmd = "AT+CGMR"
	lines, err := m.send(cmd, "firmware revision")
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if strings.HasPrefix(line, cmd) || at.Classify(line).Final() {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, at.RespVersion)), nil
	}
	return "", &ProtocolMismatch{Expected: "revision", Lines: lines}
}

// UpdateFirmware asks the modem to fetch and apply a firmware package over
// the air. It reports false when no package is available.
func (m *Modem) UpdateFirmware(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.network(); err != nil {
		m.logger.Warn("cannot update firmware", "error", err)
		return false
	}
	if err := m.updateFirmware(ctx); err != nil {
		if errors.Is(err, ErrNoUpdatePackage) {
			m.logger.Info("no firmware update available")
		} else {
			m.logger.Warn("firmware update failed", "error", err)
		}
		return false
	}
	return true
}

func (m *Modem) updateFirmware(ctx context.Context) error {
	if v, err := m.firmwareVersion(); err == nil {
		m.logger.Info("current firmware", "version", v)
	}

	if _, err := m.send("AT+CFOTA=1", "start firmware update"); err != nil {
		return fmt.Errorf("start update: %w", err)
	}

	terminal := func(v string) bool {
		status := at.Unquote(v)
		m.logger.Debug("firmware update progress", "status", status)
		return status == fotaDone || status == fotaNoPackage
	}

	for range m.config.FOTAAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := m.engine.WaitForFunc(at.UrcFOTA, 1, terminal)
		if !ok {
			continue
		}
		if at.Unquote(v) == fotaNoPackage {
			return ErrNoUpdatePackage
		}
		if _, err := m.send("AT+CFOTA=4", "apply firmware update"); err != nil {
			return fmt.Errorf("apply update: %w", err)
		}
		m.logger.Info("firmware update applied")
		return nil
	}
	return fmt.Errorf("update status: %w", ErrNoNotification)
}

// CheckSettings runs a list of diagnostic queries and returns the reply
// lines per command. It stops at the first failing query.
func (m *Modem) CheckSettings(ctx context.Context) (map[string][]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings := make(map[string][]string, len(settingsQueries))
	if err := m.powered(); err != nil {
		m.logger.Warn("cannot check settings", "error", err)
		return settings, false
	}

	for _, cmd := range settingsQueries {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("settings check cancelled", "error", err)
			return settings, false
		}
		lines, err := m.engine.Send(cmd)
		if err != nil {
			m.logger.Warn("settings query failed", "command", cmd.Text, "error", err)
			return settings, false
		}
		settings[cmd.Text] = lines
	}
	return settings, true
}
