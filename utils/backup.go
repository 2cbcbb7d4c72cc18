package utils

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/cppla/checkinhub/config"
)

const maxBackupCount = 30

// RunBackup writes a point-in-time SQL dump of the ledger database into the
// configured backup directory and prunes the oldest dumps beyond the
// retention count. mysqldump --single-transaction gives a consistent copy
// without blocking writers; callers may additionally quiesce commits for a
// bounded window.
func RunBackup(cfg config.AppConfig) (string, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s_%s.sql", cfg.DBName, time.Now().Format("20060102_150405"))
	path := filepath.Join(cfg.BackupDir, name)

	args := []string{
		"--single-transaction",
		"--host=" + cfg.DBHost,
		"--port=" + cfg.DBPort,
		"--user=" + cfg.DBUser,
		cfg.DBName,
	}
	cmd := exec.Command("mysqldump", args...)
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+cfg.DBPassword)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()
	cmd.Stdout = out

	if err := cmd.Run(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("mysqldump failed: %w", err)
	}

	cleanupOldBackups(cfg.BackupDir)
	return path, nil
}

// cleanupOldBackups removes the oldest dumps beyond the retention count.
func cleanupOldBackups(dir string) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil || len(entries) <= maxBackupCount {
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		fi, errI := os.Stat(entries[i])
		fj, errJ := os.Stat(entries[j])
		if errI != nil || errJ != nil {
			return entries[i] < entries[j]
		}
		return fi.ModTime().Before(fj.ModTime())
	})
	for _, old := range entries[:len(entries)-maxBackupCount] {
		if err := os.Remove(old); err == nil && Sugar != nil {
			Sugar.Infof("removed old backup %s", old)
		}
	}
}
