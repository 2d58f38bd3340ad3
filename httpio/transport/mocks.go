package transport

import (
	"net/http"

	"github.com/stretchr/testify/mock"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Open(userAgent string) error {
	args := m.Called(userAgent)
	return args.Error(0)
}

func (m *MockSession) Request(rawurl string, headers http.Header, sink EventSink) (Handle, error) {
	args := m.Called(rawurl, headers, sink)
	if handle := args.Get(0); handle != nil {
		return handle.(Handle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSession) Close() {
	m.Called()
}

type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) SendRequest(initial []byte, total int) error {
	args := m.Called(initial, total)
	return args.Error(0)
}

func (m *MockHandle) WriteData(p []byte) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockHandle) ReceiveResponse() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockHandle) QueryDataAvailable() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockHandle) ReadData(p []byte) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockHandle) StatusCode() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockHandle) Header(name string) (string, bool) {
	args := m.Called(name)
	return args.String(0), args.Bool(1)
}

func (m *MockHandle) Close() {
	m.Called()
}
