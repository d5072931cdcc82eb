package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	readyAttempts = 30
	readyInterval = time.Second
)

// Manager starts or attaches to the storyforge server and reports progress
// to the window.
type Manager struct {
	ServerBinary string
	ServerArgs   []string
	LogPath      string

	logFunc    func(string)
	termFunc   func(string)
	appFunc    func(string)
	serverAddr string
	client     *http.Client
	interval   time.Duration

	mu        sync.Mutex
	serverCmd *exec.Cmd
	exited    chan struct{}
}

func NewManager(log, term, app func(string), serverAddr string) *Manager {
	return &Manager{
		logFunc:    log,
		termFunc:   term,
		appFunc:    app,
		serverAddr: serverAddr,
		client:     &http.Client{Timeout: time.Second},
		interval:   readyInterval,
	}
}

func (m *Manager) log(msg string) {
	if m.logFunc != nil {
		m.logFunc(msg)
	}
}

func (m *Manager) term(name string) {
	if m.termFunc != nil {
		m.termFunc(name)
	}
}

// Start runs the startup sequence in the background.
func (m *Manager) Start() {
	go m.startup()
}

func (m *Manager) startup() {
	m.term("storyforge")
	if m.isServerReady() {
		m.log("> Server already active.")
		if m.LogPath != "" {
			m.term("server.log")
			go m.tailServerLog()
		}
	} else {
		m.log("> Server not running. Starting " + m.ServerBinary + "...")
		if err := m.runServer(); err != nil {
			m.log(fmt.Sprintf("> Error: could not start server: %v", err))
			return
		}
	}

	m.log("> Waiting for server...")
	if !m.waitReady(readyAttempts) {
		m.log("> Error: Server timed out.")
		return
	}
	m.log("> Server ready!")
	if m.appFunc != nil {
		m.appFunc(m.baseURL())
	}
}

func (m *Manager) waitReady(attempts int) bool {
	for i := 0; i < attempts; i++ {
		if m.isServerReady() {
			return true
		}
		if m.serverExited() {
			return false
		}
		time.Sleep(m.interval)
	}
	return false
}

// Stop asks a server started by this window to shut down. A server that was
// already running is left alone.
func (m *Manager) Stop() {
	m.mu.Lock()
	cmd, exited := m.serverCmd, m.exited
	m.mu.Unlock()
	if cmd == nil {
		return
	}

	fmt.Println("> storyforge-gui closing: Sending shutdown signal to server...")
	if err := m.requestShutdown(); err != nil {
		fmt.Printf("> API shutdown failed: %v\n", err)
	} else {
		fmt.Println("> Shutdown command sent successfully.")
	}

	select {
	case <-exited:
	case <-time.After(15 * time.Second):
		fmt.Println("> Server did not exit, killing it.")
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

func (m *Manager) requestShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL()+"/api/shutdown", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("shutdown returned %s", resp.Status)
	}
	return nil
}

func (m *Manager) runServer() error {
	cmd := exec.Command(m.ServerBinary, m.ServerArgs...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	exited := make(chan struct{})
	m.mu.Lock()
	m.serverCmd = cmd
	m.exited = exited
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.streamReader(stdout) }()
	go func() { defer wg.Done(); m.streamReader(stderr) }()

	go func() {
		// Pipes must be drained before Wait
		wg.Wait()
		if err := cmd.Wait(); err != nil {
			m.log(fmt.Sprintf("Server exited with error: %v", err))
		} else {
			m.log("> Server exited.")
		}
		close(exited)
	}()
	return nil
}

func (m *Manager) serverExited() bool {
	m.mu.Lock()
	exited := m.exited
	m.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return true
	default:
		return false
	}
}

func (m *Manager) tailServerLog() {
	file, err := os.Open(m.LogPath)
	if err != nil {
		m.log(fmt.Sprintf("Could not open log file: %v", err))
		return
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		m.log(fmt.Sprintf("Could not seek log file: %v", err))
		return
	}
	reader := bufio.NewReader(file)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(500 * time.Millisecond)
				continue
			}
			break
		}
		m.log(strings.TrimSpace(line))
	}
}

func (m *Manager) streamReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m.log(scanner.Text())
	}
}

// baseURL turns the configured listen address into a URL the window can load.
func (m *Manager) baseURL() string {
	addr := strings.TrimSuffix(m.serverAddr, "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	switch {
	case strings.HasPrefix(addr, ":"):
		addr = "127.0.0.1" + addr
	case strings.HasPrefix(addr, "localhost:"):
		addr = strings.Replace(addr, "localhost:", "127.0.0.1:", 1)
	case strings.HasPrefix(addr, "0.0.0.0:"):
		addr = strings.Replace(addr, "0.0.0.0:", "127.0.0.1:", 1)
	}
	return "http://" + addr
}

func (m *Manager) isServerReady() bool {
	resp, err := m.client.Get(m.baseURL() + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
