package modem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jpillora/backoff"

	"github.com/stuffa/envsensor/at"
)

// SendMQTT publishes message to topic on the configured broker.
func (m *Modem) SendMQTT(ctx context.Context, topic string, message any) bool {
	return m.Publish(ctx, m.config.Broker, topic, message)
}

// Publish JSON-encodes message and publishes it through a short-lived MQTT
// session on the modem. Each attempt creates, connects, publishes and
// disconnects; a failed attempt is disconnected and retried up to
// Config.MQTTRetries times.
func (m *Modem) Publish(ctx context.Context, broker MQTTBroker, topic string, message any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With("topic", topic, "server", broker.Server)

	if err := m.network(); err != nil {
		logger.Warn("cannot publish", "error", err)
		return false
	}

	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("cannot encode message", "error", err)
		return false
	}

	b := &backoff.Backoff{
		Min:    m.config.RetryDelay,
		Max:    m.config.RetryMaxDelay,
		Factor: 2,
	}

	for attempt := 1; attempt <= m.config.MQTTRetries; attempt++ {
		if attempt > 1 && m.config.RetryDelay > 0 {
			if err := pause(ctx, b.Duration()); err != nil {
				logger.Warn("publish cancelled", "error", err)
				return false
			}
		}
		if err := ctx.Err(); err != nil {
			logger.Warn("publish cancelled", "error", err)
			return false
		}

		err := m.publishOnce(ctx, broker, topic, payload)
		if err == nil {
			logger.Info("message published", "attempt", attempt)
			return true
		}
		logger.Warn("publish attempt failed", "attempt", attempt, "error", err)
	}

	logger.Error("publish failed, retries exhausted", "attempts", m.config.MQTTRetries)
	return false
}

func (m *Modem) publishOnce(ctx context.Context, broker MQTTBroker, topic string, payload []byte) error {
	var id string
	defer func() {
		m.disconnectMQTT(context.WithoutCancel(ctx), id)
	}()

	cmd := fmt.Sprintf("AT+CMQNEW=%s,%d,%d,%d",
		at.Quote(broker.Server), broker.Port, broker.CommandTimeoutMS, broker.BufferSize)
	lines, err := m.send(cmd, "create MQTT client")
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	v, ok := at.ParseFor(at.RespMQTTNew, lines)
	if !ok || v == "" {
		return &SessionAllocationFailure{Kind: "MQTT", Lines: lines}
	}
	id = v
	m.logger.Debug("MQTT client created", "id", id)

	if err := pause(ctx, m.config.SessionDelay); err != nil {
		return err
	}

	cmd = fmt.Sprintf("AT+CMQCON=%s,%d,%s,%d,%d,%d,%s,%s",
		id, broker.Version, at.Quote(broker.ClientID), broker.KeepAlive,
		flag(broker.CleanSession), flag(broker.WillFlag),
		at.Quote(broker.User), at.Quote(broker.Password))
	if _, err := m.send(cmd, "connect to MQTT server"); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := pause(ctx, m.config.SessionDelay); err != nil {
		return err
	}

	data := hex.EncodeToString(payload)
	cmd = fmt.Sprintf("AT+CMQPUB=%s,%s,%d,%d,%d,%d,%s",
		id, at.Quote(topic), broker.QoS, flag(broker.Retained), flag(broker.Dup),
		len(data), at.Quote(data))
	if _, err := m.send(cmd, "publish MQTT message"); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// disconnectMQTT releases a session. An empty id is a no-op.
func (m *Modem) disconnectMQTT(ctx context.Context, id string) {
	if id == "" {
		return
	}
	pause(ctx, m.config.SessionDelay)
	m.sendQuiet("AT+CMQDISCON="+id, "disconnect from MQTT server")
	pause(ctx, m.config.SessionDelay)
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
