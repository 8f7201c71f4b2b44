package collector

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
)

type step struct {
	data string
	err  error
}

// scriptedConn replays one step per Read call and then reports EOF forever.
type scriptedConn struct {
	steps []step
	reads int
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.reads++
	if len(c.steps) == 0 {
		return 0, io.EOF
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	n := copy(p, s.data)
	return n, s.err
}

func (c *scriptedConn) SetReadDeadline(time.Time) error { return nil }

func fastConfig() Config {
	return Config{
		MaxAttempts: 10,
		ReadTimeout: time.Second,
		ReadPause:   time.Millisecond,
		EmptyPause:  time.Millisecond,
	}
}

func TestImmediateEOFReturnsSentinel(t *testing.T) {
	conn := &scriptedConn{}
	res, err := New(fastConfig()).Read(context.Background(), conn)

	require.NoError(t, err)
	assert.True(t, res.NoResponse)
	assert.Equal(t, constants.NoResponseText, string(res.Data))
	assert.Equal(t, 10, res.Attempts)
	assert.Equal(t, 10, conn.reads)
	assert.Equal(t, Complete, res.State)
}

func TestEarlyStop(t *testing.T) {
	tests := []struct {
		name     string
		steps    []step
		want     string
		attempts int
	}{
		{
			name:     "body follows headers",
			steps:    []step{{data: "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"}},
			want:     "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
			attempts: 1,
		},
		{
			name:     "content length zero",
			steps:    []step{{data: "HTTP/1.1 204 No Content\r\ncontent-length: 0\r\n\r\n"}},
			want:     "HTTP/1.1 204 No Content\r\ncontent-length: 0\r\n\r\n",
			attempts: 1,
		},
		{
			name: "headers split across reads",
			steps: []step{
				{data: "HTTP/1.1 200 OK\r\nCon"},
				{data: "tent-Length: 1\r\n\r\nx"},
			},
			want:     "HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nx",
			attempts: 2,
		},
		{
			name: "empty reads before data",
			steps: []step{
				{err: io.EOF},
				{err: io.EOF},
				{data: "HTTP/1.1 200 OK\r\n\r\nbody"},
			},
			want:     "HTTP/1.1 200 OK\r\n\r\nbody",
			attempts: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(fastConfig()).Read(context.Background(), &scriptedConn{steps: tt.steps})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(res.Data))
			assert.Equal(t, tt.attempts, res.Attempts)
			assert.Equal(t, Complete, res.State)
			assert.False(t, res.NoResponse)
		})
	}
}

func TestEOFWithDataCompletes(t *testing.T) {
	conn := &scriptedConn{steps: []step{
		{data: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n"},
		{data: "", err: io.EOF},
	}}
	res, err := New(fastConfig()).Read(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n", string(res.Data))
	assert.Equal(t, 2, res.Attempts)
}

func TestFirstAttemptTimeoutFails(t *testing.T) {
	conn := &scriptedConn{steps: []step{{err: os.ErrDeadlineExceeded}}}
	res, err := New(fastConfig()).Read(context.Background(), conn)

	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.True(t, stderrors.Is(err, errors.ErrTimeout))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 1, res.Attempts)
}

func TestLaterTimeoutWithoutDataConsumesAttempt(t *testing.T) {
	conn := &scriptedConn{steps: []step{
		{err: io.EOF},
		{err: os.ErrDeadlineExceeded},
		{data: "HTTP/1.1 200 OK\r\n\r\nx"},
	}}
	res, err := New(fastConfig()).Read(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\nx", string(res.Data))
	assert.Equal(t, 3, res.Attempts)
}

func TestTimeoutAfterDataCompletes(t *testing.T) {
	conn := &scriptedConn{steps: []step{
		{data: "HTTP/1.1 200 OK\r\n"},
		{err: os.ErrDeadlineExceeded},
	}}
	res, err := New(fastConfig()).Read(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n", string(res.Data))
	assert.Equal(t, Complete, res.State)
}

func TestOtherErrorWithoutDataFails(t *testing.T) {
	conn := &scriptedConn{steps: []step{{err: stderrors.New("connection reset by peer")}}}
	res, err := New(fastConfig()).Read(context.Background(), conn)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeIO, errors.GetErrorType(err))
	assert.Equal(t, Failed, res.State)
}

func TestOtherErrorWithDataCompletes(t *testing.T) {
	conn := &scriptedConn{steps: []step{
		{data: "HTTP/1.1 502 Bad Gateway\r\n"},
		{err: stderrors.New("connection reset by peer")},
	}}
	res, err := New(fastConfig()).Read(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 502 Bad Gateway\r\n", string(res.Data))
}

func TestBudgetExhaustedWithPartialData(t *testing.T) {
	steps := []step{{data: "HTTP/1.1 200 OK\r\n"}}
	for i := 0; i < 5; i++ {
		steps = append(steps, step{data: "X: y\r\n"})
	}
	cfg := fastConfig()
	cfg.MaxAttempts = 3

	res, err := New(cfg).Read(context.Background(), &scriptedConn{steps: steps})
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nX: y\r\nX: y\r\n", string(res.Data))
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, Complete, res.State)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(fastConfig()).Read(ctx, &scriptedConn{})
	require.Error(t, err)
	assert.True(t, errors.IsContextCanceled(err))
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 0, res.Attempts)
}

func TestOnFirstByteCalledOnce(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	cfg.OnFirstByte = func() { calls++ }

	conn := &scriptedConn{steps: []step{
		{data: "HTTP/1.1 200 OK\r\n"},
		{data: "\r\nbody"},
	}}
	_, err := New(cfg).Read(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// countingConn hands out data in reads as large as the caller asks for and
// counts both reads and deadline updates.
type countingConn struct {
	data      []byte
	reads     int
	deadlines int
}

func (c *countingConn) Read(p []byte) (int, error) {
	c.reads++
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.data)
	c.data = c.data[n:]
	return n, nil
}

func (c *countingConn) SetReadDeadline(time.Time) error {
	c.deadlines++
	return nil
}

func TestBufferedBytesDrainWithoutBlocking(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n\r\nbody"
	conn := &countingConn{data: []byte(response)}

	cfg := fastConfig()
	cfg.BufferSize = 8
	res, err := New(cfg).Read(context.Background(), conn)
	require.NoError(t, err)

	assert.Equal(t, response, string(res.Data))
	// 16 bytes are pulled in by the first read, handed out 8 at a time, and
	// the remaining 7 need a second blocking read.
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 2, conn.reads)
	assert.Equal(t, 2, conn.deadlines, "a drain attempt must not arm a deadline")
}

func TestReadOverPipeWithRealDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n"))
		// hold the connection open without finishing the headers
	}()

	cfg := fastConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	res, err := New(cfg).Read(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n", string(res.Data))
	assert.Equal(t, 2, res.Attempts)
}

func TestReadOverPipeFirstTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cfg := fastConfig()
	cfg.ReadTimeout = 30 * time.Millisecond
	_, err := New(cfg).Read(context.Background(), client)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeTimeout, errors.GetErrorType(err))
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"no separator", "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n", false},
		{"body present", "HTTP/1.1 200 OK\r\n\r\nx", true},
		{"zero length", "HTTP/1.1 200 OK\r\nContent-Length:0\r\n\r\n", true},
		{"nonzero length no body", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n", false},
		{"chunked without body", "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, Chunked\r\n\r\n", false},
		{"header only separator", "\r\n\r\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsComplete([]byte(tt.data)))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_first_byte", AwaitingFirstByte.String())
	assert.Equal(t, "accumulating", Accumulating.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, "failed", Failed.String())
}
