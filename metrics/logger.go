package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *RunInfo)
}

// ZapLogger writes run records through the process logger.
type ZapLogger struct {
	log *zap.SugaredLogger
}

func NewZapLogger(log *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{log: log}
}

func (l *ZapLogger) Log(info *RunInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Errorf("ZapLogger: error: %v", err)
		return
	}
	l.log.Info(strings.TrimSpace(infoStr))
}

const defaultQueueSize = 200
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10

// FileLogger appends run records as JSON lines to LogDir/runs.log and
// rotates the file to runs.log.N once it outgrows MaxLogFileSize. Only
// MaxLogFiles rotated files are kept.
type FileLogger struct {
	MetricsQueue   chan *RunInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	log            *zap.SugaredLogger
	done           chan struct{}
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, log *zap.SugaredLogger) (*FileLogger, error) {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("FileLogger: %v", err)
	}
	logger := &FileLogger{
		MetricsQueue:   make(chan *RunInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		log:            log,
		done:           make(chan struct{}),
	}
	go logger.startLogWriter()
	return logger, nil
}

func (l *FileLogger) Log(info *RunInfo) {
	l.MetricsQueue <- info
}

// Close flushes queued records and stops the writer.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	<-l.done
}

func (l *FileLogger) logPath() string {
	return filepath.Join(l.LogDir, "runs.log")
}

func (l *FileLogger) startLogWriter() {
	defer close(l.done)
	f, err := os.OpenFile(l.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.log.Errorf("FileLogger: log open error: %v", err)
	}

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.log.Errorf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}
		f = l.tryRotateLogFile(f)
		if f == nil {
			continue
		}
		if _, err := f.WriteString(infoStr); err != nil {
			l.log.Errorf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
	if f != nil {
		f.Close()
	}
}

func (l *FileLogger) tryRotateLogFile(curr *os.File) *os.File {
	if curr != nil {
		st, err := curr.Stat()
		if err != nil || st.Size() < l.MaxLogFileSize {
			return curr
		}
		curr.Close()
		if err := l.rotate(); err != nil {
			l.log.Errorf("FileLogger: log rotation error: %v", err)
		}
	}

	f, err := os.OpenFile(l.logPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.log.Errorf("FileLogger: log open error: %v", err)
		return nil
	}
	return f
}

// rotate shifts runs.log.N to runs.log.N+1, dropping the oldest, and moves
// the current file to runs.log.1.
func (l *FileLogger) rotate() error {
	rotated, err := filepath.Glob(l.logPath() + ".*")
	if err != nil {
		return err
	}
	var seq []int
	for _, name := range rotated {
		var n int
		if _, err := fmt.Sscanf(filepath.Ext(name), ".%d", &n); err == nil {
			seq = append(seq, n)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(seq)))
	for _, n := range seq {
		name := fmt.Sprintf("%s.%d", l.logPath(), n)
		if n >= l.MaxLogFiles {
			os.Remove(name)
			continue
		}
		if err := os.Rename(name, fmt.Sprintf("%s.%d", l.logPath(), n+1)); err != nil {
			return err
		}
	}
	return os.Rename(l.logPath(), l.logPath()+".1")
}
