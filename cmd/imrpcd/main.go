package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrpcd/imrpcd/internal/chatcache"
	"github.com/imrpcd/imrpcd/internal/config"
	"github.com/imrpcd/imrpcd/internal/contacts"
	"github.com/imrpcd/imrpcd/internal/outbound"
	"github.com/imrpcd/imrpcd/internal/rpc"
	"github.com/imrpcd/imrpcd/internal/store"
	"github.com/imrpcd/imrpcd/internal/watcher"
)

var logLevels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// levelLogger gates log.Printf calls on cfg.Log.Level and renders each line
// as plain text or a JSON object per cfg.Log.Format.
type levelLogger struct {
	threshold int
	json      bool
}

func newLogger(cfg config.LogConfig) *levelLogger {
	return &levelLogger{threshold: logLevels[cfg.Level], json: cfg.Format == "json"}
}

func (l *levelLogger) logf(level string, format string, args ...any) {
	if logLevels[level] < l.threshold {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.json {
		line, err := json.Marshal(map[string]string{"level": level, "msg": msg})
		if err != nil {
			log.Printf("[%s] %s", level, msg)
			return
		}
		log.Print(string(line))
		return
	}
	log.Printf("[%s] %s", level, msg)
}

func (l *levelLogger) Debugf(format string, args ...any) { l.logf("debug", format, args...) }
func (l *levelLogger) Infof(format string, args ...any)  { l.logf("info", format, args...) }
func (l *levelLogger) Errorf(format string, args ...any) { l.logf("error", format, args...) }

func main() {
	configPath := flag.String("config", "", "path to imrpcd config (default: "+config.DefaultConfigPath()+")")
	databasePath := flag.String("db", "", "override chat.db path (defaults to config value)")
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "rpc" {
		args = args[1:]
	}
	_ = flag.CommandLine.Parse(args)

	if *configPath == "" {
		*configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *databasePath != "" {
		cfg.DBPath = *databasePath
	}

	logger := newLogger(cfg.Log)
	logger.Infof("imrpcd starting, db=%s", cfg.DBPath)
	logger.Debugf("resolved config path %s, watcher=%+v", *configPath, cfg.Watcher)

	if err := preflightCheck(cfg.DBPath); err != nil {
		logger.Errorf("preflight check failed: %v", err)
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Errorf("open chat database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := rpc.Deps{
		Store:    db,
		Cache:    chatcache.New(db),
		Watcher:  watcher.New(db, cfg.Watcher.ToWatcherConfig()),
		Sender:   outbound.NewMock(),
		Contacts: contacts.NewMock(),
	}

	if err := rpc.Serve(ctx, os.Stdin, os.Stdout, deps); err != nil {
		logger.Errorf("rpc server error: %v", err)
		os.Exit(1)
	}
}

// preflightCheck stats the database file before opening it, so a
// permission-denied chat.db surfaces the Full Disk Access hint (and a
// missing one a not-found message) even in the case where sql.Open/Ping's
// own error text is less direct about it.
func preflightCheck(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("cannot read %s: permission denied — grant Full Disk Access to this process in System Settings > Privacy & Security > Full Disk Access", path)
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("chat database not found at %s — if Messages.app has never synced on this machine, send yourself a message first", path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}
