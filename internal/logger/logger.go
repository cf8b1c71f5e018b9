package logger

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LoggerService owns the process logger. Records go to a size-rotated file under folder_path
// and, when console is set, to stderr as well. Files older than retention_days are zipped.
type LoggerService struct {
	Config        map[string]interface{}
	file          *os.File
	mu            sync.Mutex
	stopCh        chan struct{}
	wg            sync.WaitGroup
	currentLog    string
	maxFileBytes  int64
	retentionDays int
	folderPath    string
	console       bool
	level         zerolog.Level
	zl            zerolog.Logger
}

func NewLoggerService(config map[string]interface{}) *LoggerService {
	folder, _ := config["folder_path"].(string)
	if folder == "" {
		folder = "./logs"
	}
	console, ok := config["console"].(bool)
	if !ok {
		console = true
	}
	level := zerolog.InfoLevel
	if s, _ := config["level"].(string); s != "" {
		if parsed, err := zerolog.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	l := &LoggerService{
		Config:        config,
		stopCh:        make(chan struct{}),
		maxFileBytes:  int64(toInt(config["max_file_mb"])) * 1024 * 1024,
		retentionDays: toInt(config["retention_days"]),
		folderPath:    folder,
		console:       console,
		level:         level,
	}
	l.zl = zerolog.New(fileWriter{l}).Level(level).With().Timestamp().Logger()
	return l
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	}
	return 0
}

func (l *LoggerService) Name() string {
	return "logger"
}

func (l *LoggerService) Start() error {
	if err := l.open(); err != nil {
		return err
	}
	l.Logger().Info().Str("file", l.current()).Msg("logger started")
	return nil
}

func (l *LoggerService) open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.folderPath, 0755); err != nil {
		return err
	}
	logFile := l.nextLogFileName()
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentLog = logFile

	l.wg.Add(1)
	go l.backgroundWorker()
	return nil
}

func (l *LoggerService) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Logger returns the process logger. Loggers taken before Start switch to the file once it opens.
func (l *LoggerService) Logger() zerolog.Logger {
	return l.zl
}

var console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

// fileWriter routes records to the current file, serialized against rotation, and to stderr
// when console output is on or no file is open.
type fileWriter struct{ l *LoggerService }

func (w fileWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	if w.l.file == nil || w.l.console {
		console.Write(p)
	}
	if w.l.file == nil {
		return len(p), nil
	}
	return w.l.file.Write(p)
}

func (l *LoggerService) nextLogFileName() string {
	timestamp := time.Now().Format("20060102_150405")
	return filepath.Join(l.folderPath, fmt.Sprintf("commission_%s.log", timestamp))
}

func (l *LoggerService) rotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil || l.maxFileBytes <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < l.maxFileBytes {
		return nil
	}
	newLog := l.nextLogFileName()
	if newLog == l.currentLog {
		return nil
	}
	file, err := os.OpenFile(newLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file.Close()
	l.file = file
	l.currentLog = newLog
	return nil
}

func (l *LoggerService) backgroundWorker() {
	defer l.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	retentionTicker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	defer retentionTicker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.rotateIfNeeded(); err != nil {
				l.Logger().Error().Err(err).Msg("log rotation failed")
			}
		case <-retentionTicker.C:
			l.zipAndCleanOldLogs()
		}
	}
}

// zipAndCleanOldLogs moves log files older than the retention window into a dated archive.
func (l *LoggerService) zipAndCleanOldLogs() {
	if l.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -l.retentionDays)
	files, err := os.ReadDir(l.folderPath)
	if err != nil {
		return
	}
	var old []string
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".log" {
			continue
		}
		fullPath := filepath.Join(l.folderPath, f.Name())
		info, err := os.Stat(fullPath)
		if err != nil || info.ModTime().After(cutoff) || fullPath == l.current() {
			continue
		}
		old = append(old, fullPath)
	}
	if len(old) == 0 {
		return
	}

	zipName := filepath.Join(l.folderPath, fmt.Sprintf("logs_%s.zip", time.Now().Format("20060102")))
	zipFile, err := os.Create(zipName)
	if err != nil {
		return
	}
	defer zipFile.Close()
	zipWriter := zip.NewWriter(zipFile)
	defer zipWriter.Close()

	for _, path := range old {
		w, err := zipWriter.Create(filepath.Base(path))
		if err != nil {
			continue
		}
		src, err := os.Open(path)
		if err != nil {
			continue
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err == nil {
			os.Remove(path)
		}
	}
}

func (l *LoggerService) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLog
}

// LogAudit records an operator-facing event: run started, run finalized, run cancelled.
func (l *LoggerService) LogAudit(msg string) {
	l.Logger().Info().Bool("audit", true).Msg(msg)
}

var GlobalLogger *LoggerService

func SetGlobalLogger(l *LoggerService) {
	GlobalLogger = l
}

// Get returns the global logger, or a no-op logger when none was registered.
func Get() zerolog.Logger {
	if GlobalLogger == nil {
		return zerolog.Nop()
	}
	return GlobalLogger.Logger()
}
