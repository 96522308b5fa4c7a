package run

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lapdb/lapdb/cmd/lapdb/options"
	"github.com/lapdb/lapdb/server"
)

var run_examples = `  lapdb run
  lapdb`

func GetCommand() *cobra.Command {
	c := &cobra.Command{
		Use:     "run",
		Short:   "run node with existing configuration",
		Long:    "Runs the lapdb server.",
		Example: run_examples,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := options.Env.GetConfigPath()
			config, err := ParseConfig(path)
			if err != nil {
				return fmt.Errorf("parse config: %s", err)
			}
			if err := config.Validate(); err != nil {
				return fmt.Errorf("validate config: %s", err)
			}

			log, err := config.Log.New(os.Stderr)
			if err != nil {
				return fmt.Errorf("configure logger: %s", err)
			}
			defer log.Sync()

			if path == "" {
				log.Info("No configuration provided, using default settings")
			} else {
				log.Info("Loaded configuration file", zap.String("path", path))
			}

			if err := writePIDFile(options.Env.PidFile); err != nil {
				return fmt.Errorf("write pid file: %s", err)
			}
			defer removePIDFile(options.Env.PidFile)

			if err := startProfiles(options.Env.CpuProfile, options.Env.MemProfile); err != nil {
				return err
			}
			defer stopProfiles(log)

			d := &LapDB{
				Server: server.NewServer(config),
				Logger: log,
			}
			d.Server.WithLogger(log)

			if err := d.Server.Open(); err != nil {
				return fmt.Errorf("open server: %s", err)
			}

			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

			// Block until a signal arrives or the server fails on its own.
			select {
			case <-signalCh:
				d.Logger.Info("Signal received, initializing clean shutdown...")
			case err := <-d.Server.Err():
				d.Logger.Error("Server failed", zap.Error(err))
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				if err := d.Server.Close(); err != nil {
					d.Logger.Error("Error closing server", zap.Error(err))
				}
			}()

			select {
			case <-done:
				d.Logger.Info("Server shutdown completed")
			case <-signalCh:
				fmt.Println("Second signal received, initializing hard shutdown")
			case <-time.After(time.Second * 30):
				fmt.Println("Time limit reached, initializing hard shutdown")
			}
			return nil
		},
	}
	return c
}

type LapDB struct {
	Server *server.Server
	Logger *zap.Logger
}

// ParseConfig parses the config at path.
// It returns a demo configuration if path is blank.
func ParseConfig(path string) (*server.Config, error) {
	// Use demo configuration if no config path is specified.
	if path == "" {
		config, err := server.NewDemoConfig()
		if err != nil {
			return nil, err
		}
		if err := config.ApplyEnvOverrides(os.Getenv); err != nil {
			return nil, fmt.Errorf("apply env config: %v", err)
		}
		return config, nil
	}

	config := server.NewConfig()
	if err := config.FromTomlFile(path); err != nil {
		return nil, err
	}
	if err := config.ApplyEnvOverrides(os.Getenv); err != nil {
		return nil, fmt.Errorf("apply env config: %v", err)
	}
	return config, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}

// prof keeps the open profile files between start and stop.
var prof struct {
	cpu *os.File
	mem *os.File
}

func startProfiles(cpuprofile, memprofile string) error {
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("create cpu profile: %s", err)
		}
		prof.cpu = f
		if err := pprof.StartCPUProfile(prof.cpu); err != nil {
			return fmt.Errorf("start cpu profile: %s", err)
		}
	}
	if memprofile != "" {
		f, err := os.Create(memprofile)
		if err != nil {
			return fmt.Errorf("create memory profile: %s", err)
		}
		prof.mem = f
	}
	return nil
}

func stopProfiles(log *zap.Logger) {
	if prof.cpu != nil {
		pprof.StopCPUProfile()
		prof.cpu.Close()
		log.Info("CPU profile stopped", zap.String("path", prof.cpu.Name()))
	}
	if prof.mem != nil {
		if err := pprof.Lookup("heap").WriteTo(prof.mem, 0); err != nil {
			log.Error("Error writing memory profile", zap.Error(err))
		}
		prof.mem.Close()
		log.Info("Memory profile written", zap.String("path", prof.mem.Name()))
	}
}
