/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"bungae.dev/bungae/internal/logging"
	"bungae.dev/bungae/server"
	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// openBrowser opens url in the platform's default browser.
func openBrowser(url string) error {
	var c *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		c = exec.Command("open", url)
	case "linux":
		c = exec.Command("xdg-open", url)
	case "windows":
		c = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return c.Start()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a development server with incremental rebuilds and HMR",
	Long: `serve starts a long-running dev server: it builds the module graph for
each platform on first request, serves Metro-compatible bundles and
source maps over HTTP, watches the project for changes, and pushes hot
module reload updates to connected clients over WebSocket.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Flags().GetString("project")
	configPath, _ := cmd.Flags().GetString("config")
	cfg, _, err := loadConfig(projectDir, configPath)
	if err != nil {
		return err
	}

	if platformFlag, _ := cmd.Flags().GetString("platform"); platformFlag != "" {
		cfg.Platform = platformFlag
	}
	if entryFlag, _ := cmd.Flags().GetString("entry"); entryFlag != "" {
		cfg.Entry = entryFlag
	}
	if cmd.Flags().Changed("dev") {
		cfg.Dev, _ = cmd.Flags().GetBool("dev")
	}
	if cmd.Flags().Changed("minify") {
		cfg.Minify, _ = cmd.Flags().GetBool("minify")
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	if cfg.Entry == "" {
		return newConfigError(fmt.Errorf("no entry point: pass --entry or set entry in bungae.config.yaml"))
	}

	// Without --verbose the logger runs in quiet mode, which hides Info,
	// Debug and Success lines (the server's own HMR update lines included)
	// and keeps warnings and errors.
	verbose, _ := cmd.Flags().GetBool("verbose")
	logging.GetLogger().SetQuietEnabled(!verbose)
	logging.GetLogger().SetDebugEnabled(verbose)

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	pterm.Success.Printf("Dev server running on http://localhost:%d (press 'r' for a reload notice, 'o' to open, 'q' to quit)\n", cfg.Server.Port)

	quitChan := make(chan struct{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		handleServeKeyboard(cfg.Server.Port, quitChan)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quitChan:
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	cancel()
	return <-errCh
}

// handleServeKeyboard implements the serve command's narrowed hotkey
// set: 'r' prints a reload notice only (it neither rebuilds nor sends
// anything to connected clients), 'o' opens the running bundle in the
// default browser, 'q' quits (Ctrl+C also quits).
func handleServeKeyboard(port int, quitChan chan struct{}) {
	err := keyboard.Listen(func(key keys.Key) (stop bool, err error) {
		if key.Code == keys.CtrlC {
			close(quitChan)
			return true, nil
		}
		if key.Code != keys.RuneKey || len(key.Runes) == 0 {
			return false, nil
		}
		switch key.Runes[0] {
		case 'q', 'Q':
			pterm.Info.Println("Quitting...")
			close(quitChan)
			return true, nil
		case 'r', 'R':
			pterm.Info.Println("Reload requested; connected clients will refresh on next HMR broadcast.")
		case 'o', 'O':
			url := fmt.Sprintf("http://localhost:%d", port)
			if err := openBrowser(url); err != nil {
				pterm.Warning.Printf("Failed to open browser: %v\n", err)
			}
		}
		return false, nil
	})
	if err != nil {
		pterm.Warning.Printf("Keyboard input disabled: %v\n", err)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("platform", "", "target platform: ios | android")
	serveCmd.Flags().Bool("dev", true, "include dev-only code paths, verboseName, source maps, and HMR")
	serveCmd.Flags().Bool("minify", false, "run esbuild's minifier over bundles served to clients")
	serveCmd.Flags().String("entry", "", "entry point, resolved relative to --project")
	serveCmd.Flags().Int("port", 0, "port to serve on (default from config, else 8081)")
}
