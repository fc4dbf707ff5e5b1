package modem_test

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/stuffa/envsensor/at"
	"github.com/stuffa/envsensor/modem"
)

func engineConfig(t *testing.T) modem.Config {
	return modem.Config{Logger: slog.New(&logRecorder{t: t})}
}

func TestEngineSend(t *testing.T) {
	t.Run("Success returns every line", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(NewMockSequence(mockTransport).
			Signal("20,99").
			Build()...)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		lines, err := e.Send(modem.NewCommand("AT+CSQ", "signal"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"AT+CSQ", "+CSQ: 20,99", "OK"}
		if !slices.Equal(lines, want) {
			t.Errorf("lines = %q, want %q", lines, want)
		}
		if v, ok := at.ParseFor(at.RespSignal, lines); !ok || v != "20,99" {
			t.Errorf("ParseFor = %q, %v", v, ok)
		}
	})

	failures := []struct {
		name  string
		reply string
	}{
		{"ERROR", "ERROR"},
		{"CME error", "+CME ERROR: 10"},
		{"CMS error", "+CMS ERROR: 500"},
	}
	for _, tt := range failures {
		t.Run("Failure on "+tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockTransport := modem.NewMockTransport(ctrl)
			gomock.InOrder(NewMockSequence(mockTransport).
				Command("AT+CPIN?", tt.reply).
				Build()...)

			e := modem.NewEngine(mockTransport, engineConfig(t))
			_, err := e.Send(modem.NewCommand("AT+CPIN?", "SIM status"))

			var cmdErr *modem.CommandError
			if !errors.As(err, &cmdErr) {
				t.Fatalf("expected *CommandError, got: %v", err)
			}
			if cmdErr.Command != "AT+CPIN?" {
				t.Errorf("Command = %q", cmdErr.Command)
			}
			if !slices.Equal(cmdErr.Lines, []string{"AT+CPIN?", tt.reply}) {
				t.Errorf("Lines = %q", cmdErr.Lines)
			}
			if !modem.IsModemError(err) {
				t.Error("IsModemError() = false")
			}
		})
	}

	t.Run("Timeout keeps partial lines", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(NewMockSequence(mockTransport).
			Command("AT&F").
			Silence().
			Build()...)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		_, err := e.Send(modem.NewCommand("AT&F", "factory profile"))

		var timeout *modem.CommandTimeout
		if !errors.As(err, &timeout) {
			t.Fatalf("expected *CommandTimeout, got: %v", err)
		}
		if !slices.Equal(timeout.Lines, []string{"AT&F"}) {
			t.Errorf("Lines = %q", timeout.Lines)
		}
	})

	t.Run("Stale frames before the echo are discarded", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(
			mockTransport.EXPECT().Write([]byte("AT+CSQ\r\n")).Return(8, nil),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "AT\r\nOK\r\n"), nil
			}),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "AT+CSQ\r\n+CSQ: 7,0\r\nOK\r\n"), nil
			}),
		)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		lines, err := e.Send(modem.NewCommand("AT+CSQ", "signal"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _ := at.ParseFor(at.RespSignal, lines); v != "7,0" {
			t.Errorf("reply from the wrong frame: %q", lines)
		}
	})

	t.Run("Echo must match the whole command", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(
			mockTransport.EXPECT().Write([]byte("AT\r\n")).Return(4, nil),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "AT+CSQ\r\n+CSQ: 7,0\r\nOK\r\n"), nil
			}),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "AT\r\nOK\r\n"), nil
			}),
		)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		lines, err := e.Send(modem.NewCommand("AT", "ping"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"AT", "OK"}; !slices.Equal(lines, want) {
			t.Errorf("lines = %q, want %q", lines, want)
		}
	})

	t.Run("Echo search is bounded", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.SetEcho(false)
		tt.Always("AT+CGMR", "Revision:1752B10SIM7020E", "OK")

		config := engineConfig(t)
		config.EchoFrames = 2
		e := modem.NewEngine(tt, config)

		_, err := e.Send(modem.NewCommand("AT+CGMR", "version"))
		var timeout *modem.CommandTimeout
		if !errors.As(err, &timeout) {
			t.Fatalf("expected *CommandTimeout without echo, got: %v", err)
		}
	})

	t.Run("CheckEcho false accepts the first frame", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.SetEcho(false)
		tt.Always("AT+CGMR", "Revision:1752B10SIM7020E", "OK")

		e := modem.NewEngine(tt, engineConfig(t))
		lines, err := e.Send(modem.Command{Text: "AT+CGMR"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(lines) != 2 {
			t.Errorf("lines = %q", lines)
		}
	})

	t.Run("Write error is a timeout with cause", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		writeErr := errors.New("port gone")
		mockTransport := modem.NewMockTransport(ctrl)
		mockTransport.EXPECT().Write(gomock.Any()).Return(0, writeErr)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		_, err := e.Send(modem.NewCommand("AT", "attention"))
		if !errors.Is(err, writeErr) {
			t.Errorf("expected wrapped write error, got: %v", err)
		}
	})

	t.Run("Read error ends the frame as a timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		readErr := errors.New("framing error")
		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(
			mockTransport.EXPECT().Write([]byte("AT\r\n")).Return(4, nil),
			mockTransport.EXPECT().Read(gomock.Any()).Return(0, readErr),
		)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		_, err := e.Send(modem.NewCommand("AT", "attention"))

		var timeout *modem.CommandTimeout
		if !errors.As(err, &timeout) {
			t.Fatalf("expected *CommandTimeout, got: %v", err)
		}
		if !errors.Is(err, readErr) {
			t.Errorf("expected read error as cause, got: %v", err)
		}
	})
}

func TestEngineReadFrame(t *testing.T) {
	t.Run("Partial line at timeout is delivered", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.SendData("\r\n+CSNTP: 25/07/23,10:37:16:41")

		e := modem.NewEngine(tt, engineConfig(t))
		frame := e.ReadFrame()
		if frame.Status != modem.Timeout {
			t.Errorf("Status = %v, want timeout", frame.Status)
		}
		if !slices.Equal(frame.Lines, []string{"+CSNTP: 25/07/23,10:37:16:41"}) {
			t.Errorf("Lines = %q", frame.Lines)
		}
	})

	t.Run("Bare LF framing", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.SendData("AT\nOK\n")

		e := modem.NewEngine(tt, engineConfig(t))
		frame := e.ReadFrame()
		if frame.Status != modem.Success || !slices.Equal(frame.Lines, []string{"AT", "OK"}) {
			t.Errorf("frame = %v %q", frame.Status, frame.Lines)
		}
	})

	t.Run("Long lines are cut", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.SendData(strings.Repeat("A", modem.MaxLineLength+100) + "\r\n")

		e := modem.NewEngine(tt, engineConfig(t))
		frame := e.ReadFrame()
		if len(frame.Lines) != 2 {
			t.Fatalf("got %d lines, want 2", len(frame.Lines))
		}
		if len(frame.Lines[0]) != modem.MaxLineLength || len(frame.Lines[1]) != 100 {
			t.Errorf("line lengths = %d, %d", len(frame.Lines[0]), len(frame.Lines[1]))
		}
	})

	t.Run("Silence is a timeout with no lines", func(t *testing.T) {
		e := modem.NewEngine(modem.NewTestTransport(), engineConfig(t))
		frame := e.ReadFrame()
		if frame.Status != modem.Timeout || len(frame.Lines) != 0 {
			t.Errorf("frame = %v %q", frame.Status, frame.Lines)
		}
	})
}

func TestEngineWaitFor(t *testing.T) {
	t.Run("Finds a notification in later frames", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.Push(`+CEREG: 1`, `+CDNSGIP: 1,"example.com","93.184.216.34"`)

		e := modem.NewEngine(tt, engineConfig(t))
		v, ok := e.WaitFor(at.UrcDNS, 3)
		if !ok || v != `1,"example.com","93.184.216.34"` {
			t.Errorf("WaitFor = %q, %v", v, ok)
		}
	})

	t.Run("Gives up after the attempt budget", func(t *testing.T) {
		e := modem.NewEngine(modem.NewTestTransport(), engineConfig(t))
		if v, ok := e.WaitFor(at.UrcNTP, 5); ok {
			t.Errorf("WaitFor = %q, want nothing", v)
		}
	})

	t.Run("Notifications ahead of an echo are kept", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		gomock.InOrder(
			mockTransport.EXPECT().Write([]byte("AT+CSQ\r\n")).Return(8, nil),
			mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, "+CSNTP: 25/07/23,10:37:16:41\r\nAT+CSQ\r\n+CSQ: 20,99\r\nOK\r\n"), nil
			}),
		)

		e := modem.NewEngine(mockTransport, engineConfig(t))
		lines, err := e.Send(modem.NewCommand("AT+CSQ", "signal"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := []string{"AT+CSQ", "+CSQ: 20,99", "OK"}; !slices.Equal(lines, want) {
			t.Errorf("lines = %q, want %q", lines, want)
		}

		// Served from the backlog: no further reads are expected.
		v, ok := e.WaitFor(at.UrcNTP, 1)
		if !ok || v != "25/07/23,10:37:16:41" {
			t.Errorf("WaitFor = %q, %v", v, ok)
		}
	})

	t.Run("Lines after a match stay available", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.Push("+CHTTPNMIH: 0,200,0,", "+CHTTPNMIC: 0,0,2,2,6869")

		e := modem.NewEngine(tt, engineConfig(t))
		if _, ok := e.WaitFor(at.UrcHTTPHeader, 1); !ok {
			t.Fatal("header not found")
		}
		if v, ok := e.WaitFor(at.UrcHTTPContent, 1); !ok || v != "0,0,2,2,6869" {
			t.Errorf("content = %q, %v", v, ok)
		}
	})

	t.Run("Predicate filters values", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.Push("+CFOTA: DOWNLOADING", "+CFOTA: No update package")

		e := modem.NewEngine(tt, engineConfig(t))
		v, ok := e.WaitForFunc(at.UrcFOTA, 1, func(v string) bool {
			return v != "DOWNLOADING"
		})
		if !ok || v != "No update package" {
			t.Errorf("WaitForFunc = %q, %v", v, ok)
		}
	})

	t.Run("Reset forgets kept notifications", func(t *testing.T) {
		tt := modem.NewTestTransport()
		tt.Push("+CFOTA: DOWNLOADING", "+CSNTP: 25/07/23,10:37:16:41")

		e := modem.NewEngine(tt, engineConfig(t))
		if _, ok := e.WaitFor(at.UrcFOTA, 1); !ok {
			t.Fatal("FOTA notification not found")
		}
		e.Reset()
		if _, ok := e.WaitFor(at.UrcNTP, 1); ok {
			t.Error("backlog survived Reset")
		}
	})
}

func TestEngineFlush(t *testing.T) {
	tt := modem.NewTestTransport()
	tt.Push("junk", "OK")
	tt.Push("+CEREG: 1")

	e := modem.NewEngine(tt, engineConfig(t))
	// "junk", "OK" form one frame and the notification a second.
	if n := e.Flush(); n != 3 {
		t.Errorf("Flush() = %d, want 3", n)
	}
	if n := e.Flush(); n != 0 {
		t.Errorf("second Flush() = %d, want 0", n)
	}
	if _, ok := e.WaitFor(at.UrcRegistered, 1); ok {
		t.Error("flushed notification was kept")
	}
}
