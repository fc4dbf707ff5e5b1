package modem_test

import (
	"strings"

	gomock "go.uber.org/mock/gomock"

	"github.com/stuffa/envsensor/modem"
)

type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// Command expects cmd to be written and answers with its echo followed by
// reply, all in one read.
func (b *MockSequenceBuilder) Command(cmd string, reply ...string) *MockSequenceBuilder {
	wire := cmd + "\r\n"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(wire)).Return(len(wire), nil),
	)
	return b.Reply(append([]string{cmd}, reply...)...)
}

// Reply makes the next read return lines.
func (b *MockSequenceBuilder) Reply(lines ...string) *MockSequenceBuilder {
	resp := strings.Join(lines, "\r\n") + "\r\n"
	b.calls = append(b.calls,
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, resp), nil
		}),
	)
	return b
}

// Silence makes the next read time out.
func (b *MockSequenceBuilder) Silence() *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Read(gomock.Any()).Return(0, nil),
	)
	return b
}

func (b *MockSequenceBuilder) AT() *MockSequenceBuilder {
	return b.Command("AT", "OK")
}

func (b *MockSequenceBuilder) SimReady() *MockSequenceBuilder {
	return b.Command("AT+CPIN?", "+CPIN: READY", "OK")
}

func (b *MockSequenceBuilder) SimPinRequired() *MockSequenceBuilder {
	return b.Command("AT+CPIN?", "+CPIN: SIM PIN", "OK")
}

func (b *MockSequenceBuilder) Signal(csq string) *MockSequenceBuilder {
	return b.Command("AT+CSQ", "+CSQ: "+csq, "OK")
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}
