package modem

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stuffa/envsensor/at"
)

// GetHTTP fetches path from host through a short-lived HTTP instance on the
// modem and returns the body. Only a 200 response with UTF-8 content is
// reported as found. The instance is always disconnected and destroyed.
func (m *Modem) GetHTTP(ctx context.Context, host, path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With("host", host, "path", path)

	if err := m.network(); err != nil {
		logger.Warn("cannot fetch", "error", err)
		return "", false
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("fetch cancelled", "error", err)
		return "", false
	}

	content, err := m.getHTTP(host, path)
	if err != nil {
		logger.Warn("HTTP GET failed", "error", err)
		return "", false
	}
	logger.Info("HTTP GET complete", "bytes", len(content))
	return content, true
}

// PostHTTP posts message, JSON-encoded, with the configured content type.
func (m *Modem) PostHTTP(ctx context.Context, host, path string, message any) bool {
	return m.PostHTTPType(ctx, host, path, message, m.config.ContentType)
}

// PostHTTPType posts message, JSON-encoded, with the given content type. The
// response is not awaited.
func (m *Modem) PostHTTPType(ctx context.Context, host, path string, message any, contentType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With("host", host, "path", path)

	if err := m.network(); err != nil {
		logger.Warn("cannot post", "error", err)
		return false
	}

	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("cannot encode message", "error", err)
		return false
	}

	if err := m.postHTTP(ctx, host, path, payload, contentType); err != nil {
		logger.Warn("HTTP POST failed", "error", err)
		return false
	}
	logger.Info("HTTP POST sent", "bytes", len(payload))
	return true
}

func (m *Modem) getHTTP(host, path string) (string, error) {
	id, err := m.createHTTP(host)
	if err != nil {
		return "", err
	}
	defer m.releaseHTTP(id)

	if _, err := m.send("AT+CHTTPCON="+id, "HTTP connect"); err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	cmd := fmt.Sprintf("AT+CHTTPSEND=%s,0,%s", id, at.Quote(path))
	if _, err := m.send(cmd, "HTTP GET "+path); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}

	header, err := m.waitHTTP(at.UrcHTTPHeader, id)
	if err != nil {
		return "", fmt.Errorf("response header: %w", err)
	}
	if status := at.Fields(header)[1]; status != "200" {
		return "", &HTTPStatusError{Code: status}
	}

	return m.readContent(id)
}

// readContent collects +CHTTPNMIC chunks for instance id until the
// announced total length has been received.
func (m *Modem) readContent(id string) (string, error) {
	var body []byte
	for {
		v, err := m.waitHTTP(at.UrcHTTPContent, id)
		if err != nil {
			return "", fmt.Errorf("response content: %w", err)
		}

		// id,flag,total,len,content
		f := at.Fields(v)
		if len(f) < 5 {
			return "", &ProtocolMismatch{Expected: "id,flag,total,len,content", Lines: []string{v}}
		}
		total, err := strconv.Atoi(f[2])
		if err != nil {
			return "", &ProtocolMismatch{Expected: "numeric content length", Lines: []string{v}}
		}
		chunk, err := hex.DecodeString(at.Unquote(f[4]))
		if err != nil {
			return "", &ProtocolMismatch{Expected: "hex content", Lines: []string{v}}
		}
		body = append(body, chunk...)

		if len(body) >= total {
			break
		}
		m.logger.Debug("partial HTTP content", "received", len(body), "total", total)
	}

	if !utf8.Valid(body) {
		return "", &ProtocolMismatch{Expected: "UTF-8 content", Lines: []string{hex.EncodeToString(body)}}
	}
	return string(body), nil
}

func (m *Modem) postHTTP(ctx context.Context, host, path string, payload []byte, contentType string) error {
	id, err := m.createHTTP(host)
	if err != nil {
		return err
	}
	defer m.releaseHTTP(id)

	if _, err := m.send("AT+CHTTPCON="+id, "HTTP connect"); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := pause(ctx, m.config.HTTPConnectDelay); err != nil {
		return err
	}

	cmd := fmt.Sprintf("AT+CHTTPSEND=%s,1,%s,%s,%s,%s",
		id, at.Quote(path), at.Quote(""), at.Quote(contentType), at.Quote(hex.EncodeToString(payload)))
	if _, err := m.send(cmd, "HTTP POST "+path); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (m *Modem) createHTTP(host string) (string, error) {
	lines, err := m.send("AT+CHTTPCREATE="+at.Quote(hostURL(host)), "HTTP create")
	if err != nil {
		return "", fmt.Errorf("create instance: %w", err)
	}
	id, ok := at.ParseFor(at.RespHTTPNew, lines)
	if !ok || id == "" {
		return "", &SessionAllocationFailure{Kind: "HTTP", Lines: lines}
	}
	m.logger.Debug("HTTP instance created", "id", id)
	return id, nil
}

func (m *Modem) releaseHTTP(id string) {
	m.sendQuiet("AT+CHTTPDISCON="+id, "HTTP disconnect")
	m.sendQuiet("AT+CHTTPDESTROY="+id, "HTTP destroy")
}

// hostURL turns a bare host into the base URL the modem expects.
func hostURL(host string) string {
	if strings.Contains(host, "://") {
		return host
	}
	return "http://" + strings.TrimSuffix(host, "/") + "/"
}

// waitHTTP waits for the next prefix notification of instance id. An error
// notification for the instance ends the wait.
func (m *Modem) waitHTTP(prefix, id string) (string, error) {
	matches := forInstance(id)
	got, v, ok := m.engine.WaitForAny([]string{prefix, at.UrcHTTPError}, m.config.WaitAttempts,
		func(_, v string) bool { return matches(v) })
	if !ok {
		return "", ErrNoNotification
	}
	if got == at.UrcHTTPError {
		return "", fmt.Errorf("%w: code %s", ErrHTTPConnection, at.Fields(v)[1])
	}
	return v, nil
}

// forInstance matches notifications whose first field is id and that carry
// at least one more field.
func forInstance(id string) func(string) bool {
	return func(v string) bool {
		f := at.Fields(v)
		return len(f) >= 2 && f[0] == id
	}
}
