package ipc

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/doeshing/hostq/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubAnswerer struct {
	entered chan string
	release chan struct{}
}

func (s *stubAnswerer) AnswerQuestion(ctx context.Context, text string, mode domain.InteractionMode) domain.Answer {
	if s.entered != nil {
		s.entered <- text
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return domain.Answer{QuestionID: "q", Text: "cancelled", Label: domain.LabelRefusal, Origin: domain.OriginDegraded}
		}
	}
	return domain.Answer{
		QuestionID:  "q-" + string(mode),
		Text:        "echo: " + text,
		Reliability: 0.95,
		Label:       domain.LabelGreen,
		Origin:      domain.OriginFastPath,
	}
}

// socketDir keeps socket paths short enough for sun_path.
func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "hq")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func startServer(t *testing.T, answerer Answerer) (*Server, *Client) {
	t.Helper()
	dir := socketDir(t)
	srv := NewServer(Options{
		SocketPath: filepath.Join(dir, "hostq.sock"),
		PIDFile:    filepath.Join(dir, "hostq.pid"),
		Answerer:   answerer,
		Status: func() StatusPayload {
			return StatusPayload{Version: "test", Served: 7, Backend: "heuristic", Debug: true}
		},
	})
	require.NoError(t, srv.Listen())

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if err := <-served; err != nil {
			t.Errorf("Serve error: %v", err)
		}
	})
	return srv, NewClient(srv.Addr())
}

func TestAskReturnsAnswer(t *testing.T) {
	_, client := startServer(t, &stubAnswerer{})

	answer, err := client.Ask(context.Background(), "how much ram", domain.ModeInteractive)
	require.NoError(t, err)
	assert.Equal(t, "echo: how much ram", answer.Text)
	assert.Equal(t, "q-interactive", answer.QuestionID)
	assert.Equal(t, domain.LabelGreen, answer.Label)
}

func TestPingAndStatus(t *testing.T) {
	_, client := startServer(t, &stubAnswerer{})
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, int64(7), status.Served)
	assert.Equal(t, "heuristic", status.Backend)
	assert.True(t, status.Debug)
	assert.False(t, status.StartedAt.IsZero())
	assert.GreaterOrEqual(t, status.Connections, 1)
}

func TestRejectsBadRequests(t *testing.T) {
	_, client := startServer(t, &stubAnswerer{})

	_, err := client.Ask(context.Background(), "   ", domain.ModeOneShot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question text is empty")

	conn, err := net.Dial("unix", client.socketPath)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	tests := []struct {
		name string
		line string
		want string
	}{
		{"unknown type", `{"type":"reboot","id":"1"}`, `unknown message type \"reboot\"`},
		{"bad payload", `{"type":"ask","id":"2","payload":"nope"}`, "invalid ask payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conn.Write([]byte(tt.line + "\n"))
			require.NoError(t, err)
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Contains(t, line, `"type":"error"`)
			assert.Contains(t, line, tt.want)
		})
	}

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "malformed message")
}

func TestSocketPermissionsAndPIDFile(t *testing.T) {
	srv, _ := startServer(t, &stubAnswerer{})

	info, err := os.Stat(srv.opts.SocketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(domain.SecureFilePermissions), info.Mode().Perm())

	pid, err := ReadPIDFile(srv.opts.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	second := NewServer(Options{SocketPath: srv.opts.SocketPath})
	err = second.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already listening")
}

func TestListenReplacesStaleSocket(t *testing.T) {
	dir := socketDir(t)
	path := filepath.Join(dir, "hostq.sock")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	srv := NewServer(Options{SocketPath: path, Answerer: &stubAnswerer{}})
	require.NoError(t, srv.Listen())
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	require.NoError(t, NewClient(path).Ping(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, <-served)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket should be removed on shutdown")
}

func TestClientWithoutDaemon(t *testing.T) {
	client := NewClient(filepath.Join(socketDir(t), "missing.sock")).WithDialTimeout(100 * time.Millisecond)
	err := client.Ping(context.Background())
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("Ping error = %v, want ErrDaemonUnavailable", err)
	}
}

func TestShutdownWaitsForInflightQuestion(t *testing.T) {
	answerer := &stubAnswerer{entered: make(chan string, 1), release: make(chan struct{})}
	srv, client := startServer(t, answerer)

	type result struct {
		answer domain.Answer
		err    error
	}
	asked := make(chan result, 1)
	go func() {
		answer, err := client.Ask(context.Background(), "is nginx up", domain.ModeOneShot)
		asked <- result{answer, err}
	}()
	require.Equal(t, "is nginx up", <-answerer.entered)

	stopped := make(chan error, 1)
	go func() { stopped <- srv.Shutdown(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Shutdown returned while a question was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(answerer.release)
	res := <-asked
	require.NoError(t, res.err)
	assert.Equal(t, "echo: is nginx up", res.answer.Text)
	require.NoError(t, <-stopped)
}

func TestShutdownDeadlineCancelsEngine(t *testing.T) {
	answerer := &stubAnswerer{entered: make(chan string, 1), release: make(chan struct{})}
	srv, client := startServer(t, answerer)
	defer close(answerer.release)

	asked := make(chan error, 1)
	go func() {
		_, err := client.Ask(context.Background(), "slow question", domain.ModeOneShot)
		asked <- err
	}()
	<-answerer.entered

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := srv.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// The connection was cut, so the client sees a transport error.
	require.Error(t, <-asked)
}

func TestClientHonoursContext(t *testing.T) {
	answerer := &stubAnswerer{entered: make(chan string, 1), release: make(chan struct{})}
	_, client := startServer(t, answerer)
	defer close(answerer.release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Ask(ctx, "never answered", domain.ModeOneShot)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, strings.HasPrefix(err.Error(), "read reply"))
}
