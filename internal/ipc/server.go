package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout = 5 * time.Second
	// record_chunk 携带 base64 音频，单行可能较大
	maxLineBytes = 8 * 1024 * 1024
)

// Handler 处理客户端连接和命令
type Handler interface {
	Connected(c *Client)
	Handle(ctx context.Context, c *Client, req Request)
	Disconnected(c *Client)
}

// Client 一个已连接的客户端，Send 可以并发调用
type Client struct {
	id   string
	conn net.Conn

	mu  sync.Mutex
	enc *json.Encoder
}

func newClient(conn net.Conn) *Client {
	return &Client{id: uuid.NewString(), conn: conn, enc: json.NewEncoder(conn)}
}

func (c *Client) ID() string {
	return c.id
}

// Send 写出一行回复
func (c *Client) Send(reply Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.enc.Encode(reply)
}

type Server struct {
	socketPath   string
	listener     net.Listener
	handler      Handler
	lockFile     *os.File
	lockFilePath string

	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	notice      *Reply
	noticeLock  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(socketPath string, handler Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:   socketPath,
		handler:      handler,
		clients:      make(map[*Client]struct{}),
		lockFilePath: socketPath + ".lock",
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Server) checkAndCleanOldLock() error {
	// 检查锁文件是否存在
	if _, err := os.Stat(s.lockFilePath); os.IsNotExist(err) {
		return nil
	}

	content, err := os.ReadFile(s.lockFilePath)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	pidStr := strings.TrimSpace(string(content))
	if pidStr == "" {
		log.Warn().Msg("Lock file is empty, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		log.Warn().Err(err).Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(s.lockFilePath)
		return nil
	}

	if !isProcessRunning(pid) {
		log.Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(s.lockFilePath)
		return nil
	}

	log.Info().Int("existing_pid", pid).Msg("Another process is still running")
	return nil
}

// isProcessRunning kill(pid, 0) 不发送信号，只检查进程是否存在
func isProcessRunning(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (s *Server) acquireLock() error {
	if err := s.checkAndCleanOldLock(); err != nil {
		log.Warn().Err(err).Msg("Failed to clean old lock file")
	}

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	// 尝试获取独占锁
	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("another singalong server instance is already running")
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	// 拿到锁之后再清空并写入当前进程ID
	if err := file.Truncate(0); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	s.lockFile = file
	log.Info().Str("lock_file", s.lockFilePath).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (s *Server) releaseLock() {
	if s.lockFile != nil {
		syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
		s.lockFile.Close()
		os.Remove(s.lockFilePath)
		log.Info().Str("lock_file", s.lockFilePath).Msg("Released process lock")
		s.lockFile = nil
	}
}

func (s *Server) Start() error {
	// 首先尝试获取进程锁
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return err
	}
	s.listener = listener

	log.Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	client := newClient(conn)
	s.clientsLock.Lock()
	s.clients[client] = struct{}{}
	s.clientsLock.Unlock()

	logger := log.With().Str("client_id", client.id).Logger()
	logger.Info().Msg("Client connected")

	s.handler.Connected(client)

	s.noticeLock.Lock()
	notice := s.notice
	s.noticeLock.Unlock()
	if notice != nil {
		if err := client.Send(*notice); err != nil {
			logger.Error().Err(err).Msg("Failed to send last notice")
		}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logger.Warn().Err(err).Msg("Invalid request")
			client.Send(ErrorReply("", fmt.Errorf("invalid request: %w", err)))
			continue
		}
		s.handler.Handle(s.ctx, client, req)
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		logger.Warn().Err(err).Msg("Client connection error")
	}

	s.clientsLock.Lock()
	delete(s.clients, client)
	s.clientsLock.Unlock()
	conn.Close()

	s.handler.Disconnected(client)
	logger.Info().Msg("Client disconnected")
}

// Broadcast 发送给所有客户端，并保留给之后连接的客户端
func (s *Server) Broadcast(reply Reply) {
	s.noticeLock.Lock()
	s.notice = &reply
	s.noticeLock.Unlock()

	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()

	for client := range s.clients {
		if err := client.Send(reply); err != nil {
			log.Error().Err(err).Str("client_id", client.id).Msg("Failed to write to client, removing")
			client.conn.Close()
			delete(s.clients, client)
		}
	}
}

// ClientCount 当前连接数
func (s *Server) ClientCount() int {
	s.clientsLock.Lock()
	defer s.clientsLock.Unlock()
	return len(s.clients)
}

func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.clientsLock.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.clientsLock.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
	s.releaseLock()
}
