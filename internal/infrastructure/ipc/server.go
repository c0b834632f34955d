package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Answerer is the engine operation the daemon exposes.
type Answerer interface {
	AnswerQuestion(ctx context.Context, text string, mode domain.InteractionMode) domain.Answer
}

// Options configures a Server.
type Options struct {
	SocketPath string
	PIDFile    string
	Answerer   Answerer
	// Status fills the engine-specific part of the status reply.
	Status func() StatusPayload
	Logger ports.Logger
}

// Server accepts connections on a unix socket and answers one message at a
// time per connection.
type Server struct {
	opts      Options
	logger    ports.Logger
	startedAt time.Time

	listener net.Listener
	baseCtx  context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a server. Listen must be called before Serve.
func NewServer(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:    opts,
		logger:  opts.Logger,
		baseCtx: ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket with owner-only permissions and writes the PID
// file. A stale socket left by a dead daemon is removed; a live one is an error.
func (s *Server) Listen() error {
	path := s.opts.SocketPath
	if path == "" {
		return errors.New("socket path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if alive(path) {
		return fmt.Errorf("daemon already listening on %s", path)
	}
	_ = os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, domain.SecureFilePermissions); err != nil {
		listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	if s.opts.PIDFile != "" {
		if err := writePIDFile(s.opts.PIDFile); err != nil {
			listener.Close()
			return err
		}
	}
	s.listener = listener
	s.startedAt = time.Now()
	s.info("daemon listening", map[string]interface{}{"socket": path, "pid": os.Getpid()})
	return nil
}

// Serve accepts connections until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("serve called before listen")
	}
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosing() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handle(conn)
	}
}

// Shutdown stops accepting, lets in-flight questions finish and waits for
// every handler. When ctx ends first the remaining connections are cut.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	// Idle handlers block in Decode; an expired read deadline releases them.
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.cancel()
		<-done
	}
	s.cancel()

	if s.opts.SocketPath != "" {
		_ = os.Remove(s.opts.SocketPath)
	}
	if s.opts.PIDFile != "" {
		_ = os.Remove(s.opts.PIDFile)
	}
	s.info("daemon stopped", nil)
	return err
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.opts.SocketPath
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handle(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var msg Message
		if err := decoder.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosing() && !isTimeout(err) {
				s.debug("dropping connection", map[string]interface{}{"error": err.Error()})
				_ = encoder.Encode(errorMessage("", "malformed message: "+err.Error()))
			}
			return
		}

		reply := s.dispatch(msg)
		if err := encoder.Encode(reply); err != nil {
			s.debug("write reply failed", map[string]interface{}{"error": err.Error()})
			return
		}
		if s.isClosing() {
			return
		}
	}
}

func (s *Server) dispatch(msg Message) Message {
	switch msg.Type {
	case MsgTypePing:
		return Message{Type: MsgTypePong, ID: msg.ID}

	case MsgTypeStatus:
		reply, err := newMessage(MsgTypeStatus, msg.ID, s.status())
		if err != nil {
			return errorMessage(msg.ID, err.Error())
		}
		return reply

	case MsgTypeAsk:
		var ask AskPayload
		if err := json.Unmarshal(msg.Payload, &ask); err != nil {
			return errorMessage(msg.ID, "invalid ask payload: "+err.Error())
		}
		if strings.TrimSpace(ask.Text) == "" {
			return errorMessage(msg.ID, "question text is empty")
		}
		if s.opts.Answerer == nil {
			return errorMessage(msg.ID, "engine unavailable")
		}
		answer := s.opts.Answerer.AnswerQuestion(s.baseCtx, ask.Text, domain.ParseInteractionMode(string(ask.Mode)))
		reply, err := newMessage(MsgTypeAnswer, msg.ID, answer)
		if err != nil {
			return errorMessage(msg.ID, err.Error())
		}
		return reply

	default:
		return errorMessage(msg.ID, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) status() StatusPayload {
	var status StatusPayload
	if s.opts.Status != nil {
		status = s.opts.Status()
	}
	status.PID = os.Getpid()
	status.StartedAt = s.startedAt
	status.Connections = s.connections()
	return status
}

func (s *Server) info(msg string, fields map[string]interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, fields)
	}
}

func (s *Server) debug(msg string, fields map[string]interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, fields)
	}
}

// alive reports whether something answers on the socket.
func alive(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), domain.SecureFilePermissions); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the PID recorded by a running daemon.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
