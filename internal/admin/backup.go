// Package admin: резервное копирование БД.
package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"VPN-MiniApp/internal/logger"
)

const backupPattern = "autobackup_*.dump"

// Backuper снимает дампы Postgres через pg_dump и удаляет старые.
type Backuper struct {
	dir       string
	dsn       string
	retention time.Duration
	timeout   time.Duration
	// dump выполняет сам дамп; подменяется в тестах.
	dump func(ctx context.Context, dsn, filename string) error
	now  func() time.Time
}

func NewBackuper(dir, dsn string, retention time.Duration) *Backuper {
	return &Backuper{
		dir:       dir,
		dsn:       dsn,
		retention: retention,
		timeout:   2 * time.Minute,
		dump:      pgDump,
		now:       time.Now,
	}
}

func pgDump(ctx context.Context, dsn, filename string) error {
	out, err := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump: %w: %s", err, out)
	}
	return nil
}

// Backup создаёт дамп и возвращает путь к файлу.
func (b *Backuper) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	filename := filepath.Join(b.dir, "autobackup_"+b.now().Format("20060102_150405")+".dump")
	if err := b.dump(ctx, b.dsn, filename); err != nil {
		_ = os.Remove(filename)
		return "", err
	}
	return filename, nil
}

// CleanOld удаляет дампы старше retention. Возвращает удалённые файлы.
func (b *Backuper) CleanOld() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, backupPattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	cutoff := b.now().Add(-b.retention)
	var removed []string
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				logger.Warn("backup cleanup failed", zap.String("file", f), zap.Error(err))
				continue
			}
			removed = append(removed, f)
		}
	}
	return removed, nil
}

// Run выполняется из cron. Делает дамп, чистит старые и пишет админу при ошибке.
func (b *Backuper) Run(ctx context.Context) {
	filename, err := b.Backup(ctx)
	if err != nil {
		logger.Error("auto backup failed", zap.Error(err))
		logger.NotifyAdmin("Ошибка резервного копирования: " + err.Error())
		return
	}
	removed, err := b.CleanOld()
	if err != nil {
		logger.Warn("backup cleanup failed", zap.Error(err))
	}
	logger.Info("database backup created", zap.String("file", filename), zap.Int("removed", len(removed)))
}
