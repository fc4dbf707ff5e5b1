package modem

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/stuffa/envsensor/at"
)

// DNSLookup resolves host using the modem's resolver. The answer is only
// accepted when the modem reports success for exactly this host.
func (m *Modem) DNSLookup(ctx context.Context, host string) (netip.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.logger.With("host", host)

	if err := m.network(); err != nil {
		logger.Warn("cannot resolve", "error", err)
		return netip.Addr{}, false
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("lookup cancelled", "error", err)
		return netip.Addr{}, false
	}

	addr, err := m.dnsLookup(host)
	if err != nil {
		logger.Warn("DNS lookup failed", "error", err)
		return netip.Addr{}, false
	}
	logger.Debug("DNS lookup complete", "addr", addr)
	return addr, true
}

func (m *Modem) dnsLookup(host string) (netip.Addr, error) {
	lines, err := m.send("AT+CDNSGIP="+at.Quote(host), "DNS lookup "+host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("query: %w", err)
	}

	v, ok := at.ParseFor(at.UrcDNS, lines)
	if !ok {
		// Answers for other hosts are late replies to earlier lookups.
		v, ok = m.engine.WaitForFunc(at.UrcDNS, m.config.WaitAttempts, func(v string) bool {
			f := at.Fields(v)
			return len(f) >= 2 && at.Unquote(f[1]) == host
		})
	}
	if !ok {
		return netip.Addr{}, fmt.Errorf("answer: %w", ErrNoNotification)
	}

	// status,"host","ip"
	f := at.Fields(v)
	if len(f) < 3 {
		return netip.Addr{}, &ProtocolMismatch{Expected: `status,"host","ip"`, Lines: []string{v}}
	}
	if f[0] != "1" {
		return netip.Addr{}, fmt.Errorf("%w: status %s", ErrLookupFailed, f[0])
	}
	if name := at.Unquote(f[1]); name != host {
		return netip.Addr{}, fmt.Errorf("%w: answer for %q", ErrLookupFailed, name)
	}
	addr, err := netip.ParseAddr(at.Unquote(f[2]))
	if err != nil {
		return netip.Addr{}, &ProtocolMismatch{Expected: "IP address", Lines: []string{v}}
	}
	return addr, nil
}

// RSSI returns the received signal strength in dBm. It reports false when
// the modem does not know the signal level.
func (m *Modem) RSSI(ctx context.Context) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.powered(); err != nil {
		m.logger.Warn("cannot read signal", "error", err)
		return 0, false
	}

	raw, err := m.signal()
	if err != nil {
		m.logger.Warn("signal query failed", "error", err)
		return 0, false
	}
	if raw < 0 || raw > 31 {
		m.logger.Info("no signal", "csq", raw)
		return 0, false
	}

	rssi := raw*2 - 113
	if raw == 0 {
		m.logger.Warn("weak signal", "rssi", rssi)
	}
	return rssi, true
}

// SetTime fetches network time over SNTP and applies it to Config.Clock.
// The time service is always stopped afterwards.
func (m *Modem) SetTime(ctx context.Context) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.network(); err != nil {
		m.logger.Warn("cannot sync time", "error", err)
		return time.Time{}, false
	}
	if err := ctx.Err(); err != nil {
		m.logger.Warn("time sync cancelled", "error", err)
		return time.Time{}, false
	}

	t, err := m.setTime()
	if err != nil {
		m.logger.Warn("time sync failed", "error", err)
		return time.Time{}, false
	}
	m.logger.Info("clock set from network", "time", t)
	return t, true
}

func (m *Modem) setTime() (time.Time, error) {
	defer m.sendQuiet("AT+CSNTPSTOP", "stop time service")

	if _, err := m.send("AT+CSNTPSTART="+at.Quote(m.config.NTPServer), "start time service"); err != nil {
		return time.Time{}, fmt.Errorf("start time service: %w", err)
	}

	v, ok := m.engine.WaitFor(at.UrcNTP, m.config.WaitAttempts)
	if !ok {
		return time.Time{}, fmt.Errorf("network time: %w", ErrNoNotification)
	}

	t, err := ParseNetworkTime(v)
	if err != nil {
		return time.Time{}, err
	}
	if err := m.config.Clock.Set(t); err != nil {
		return time.Time{}, fmt.Errorf("set clock: %w", err)
	}
	return t, nil
}

// ParseNetworkTime parses the SNTP notification payload
// "YY/MM/DD,HH:MM:SS[:ms]" as a UTC time in the 2000s.
func ParseNetworkTime(s string) (time.Time, error) {
	s = at.Unquote(s)
	mismatch := &ProtocolMismatch{Expected: "YY/MM/DD,HH:MM:SS[:ms]", Lines: []string{s}}

	date, clock, ok := strings.Cut(s, ",")
	if !ok {
		return time.Time{}, mismatch
	}
	d := strings.Split(date, "/")
	c := strings.Split(clock, ":")
	if len(d) != 3 || len(c) < 3 || len(c) > 4 {
		return time.Time{}, mismatch
	}

	var n [7]int
	for i, part := range append(d, c...) {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return time.Time{}, mismatch
		}
		n[i] = v
	}
	yy, mon, dd, hh, mi, ss, ms := n[0], n[1], n[2], n[3], n[4], n[5], n[6]
	if yy > 99 || mon < 1 || mon > 12 || dd < 1 || dd > 31 || hh > 23 || mi > 59 || ss > 59 || ms > 999 {
		return time.Time{}, mismatch
	}

	t := time.Date(2000+yy, time.Month(mon), dd, hh, mi, ss, ms*int(time.Millisecond), time.UTC)
	if t.Day() != dd {
		// e.g. 31st of a 30-day month
		return time.Time{}, mismatch
	}
	return t, nil
}
