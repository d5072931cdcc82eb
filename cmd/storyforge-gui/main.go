// Command storyforge-gui wraps the storyforge web UI in a native window.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	webview "github.com/webview/webview_go"

	"storyforge/pkg/config"
	"storyforge/pkg/logging"
)

var (
	configPath = flag.String("config", "configs/storyforge.yaml", "Path to the config file")
	serverURL  = flag.String("url", "", "Attach to a running server instead of the configured address")
)

func main() {
	flag.Parse()

	// Webview requires main thread
	runtime.LockOSThread()

	// Run from the executable directory so configs/, data/ and .env resolve
	exe, _ := os.Executable()
	if err := os.Chdir(filepath.Dir(exe)); err != nil {
		fmt.Fprintf(os.Stderr, "chdir: %v\n", err)
		os.Exit(1)
	}
	_ = godotenv.Load()
	logging.InitConsole("INFO")

	addr := *serverURL
	logPath := ""
	if addr == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.Server.Address
		logPath = cfg.Log.Server.Path
	}

	w := webview.New(true)
	defer w.Destroy()

	w.SetTitle("storyforge")
	w.SetSize(1100, 900, webview.HintNone)

	logProxy := func(msg string) {
		w.Dispatch(func() {
			w.Eval("window.addLogLine(" + escapeJS(msg) + ")")
		})
	}
	termProxy := func(name string) {
		w.Dispatch(func() {
			w.Eval("window.setTerminalTitle(" + escapeJS(name) + ")")
		})
	}
	appProxy := func(url string) {
		w.Dispatch(func() {
			w.Eval("window.enableApp(" + escapeJS(url) + ")")
		})
	}

	mgr := NewManager(logProxy, termProxy, appProxy, addr)
	mgr.ServerBinary = serverBinary(filepath.Dir(exe))
	mgr.ServerArgs = []string{"-config", *configPath}
	mgr.LogPath = logPath
	defer mgr.Stop()

	// The shell page is served locally so the iframe is same-origin friendly
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	defer ln.Close()

	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(htmlContent))
		}))
	}()

	w.Navigate("http://" + ln.Addr().String())

	mgr.Start()

	w.Run()
}

func serverBinary(dir string) string {
	name := "storyforge"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(dir, name)
}

func escapeJS(s string) string {
	b, _ := json.Marshal(s)
	// json.Marshal returns "string", surrounding quotes included.
	return string(b)
}
