package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"consilium/internal/config"
)

// Backups archive the consultation history database and the broker's
// JetStream data directory into one compressed tar. Entries are prefixed
// with a root label so restore can place them independently.
const (
	rootStore = "store"
	rootBus   = "bus"
)

func runBackup(args []string) error {
	outputPath := flagValue(args, "-f")
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: consilium backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	roots := map[string]string{
		rootStore: filepath.Dir(cfg.Store.Path),
		rootBus:   cfg.Bus.DataDir,
	}
	entries := 0
	for label, dir := range roots {
		n, err := archiveDir(tw, label, dir)
		if err != nil {
			return fmt.Errorf("archive %s: %w", dir, err)
		}
		entries += n
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	size := int64(0)
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}
	fmt.Printf("Backup complete: %d files, %s\n", entries, formatSize(size))
	return nil
}

// archiveDir writes dir's regular files and directories into tw under the
// given label. A missing dir is skipped.
func archiveDir(tw *tar.Writer, label, dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Warn("backup source missing, skipping", "dir", dir)
		return 0, nil
	}

	entries := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() && !d.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(label, filepath.ToSlash(rel))
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return err
		}
		entries++
		return nil
	})
	return entries, err
}

func runRestore(args []string) error {
	inputPath := flagValue(args, "-f")
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: consilium restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}
	overwrite := hasFlag(args, "-overwrite")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	roots := map[string]string{
		rootStore: filepath.Dir(cfg.Store.Path),
		rootBus:   cfg.Bus.DataDir,
	}
	if !overwrite {
		for _, dir := range roots {
			if dirNonEmpty(dir) {
				return fmt.Errorf("%s is not empty, add -overwrite to replace files", dir)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		label, rel, ok := splitEntry(hdr.Name)
		if !ok {
			continue
		}
		dir, ok := roots[label]
		if !ok {
			slog.Warn("unknown archive root, skipping", "name", hdr.Name)
			continue
		}

		target := filepath.Join(dir, filepath.FromSlash(rel))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
			dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, hdr.FileInfo().Mode().Perm())
			if err != nil {
				return fmt.Errorf("create file: %w", err)
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return fmt.Errorf("write file: %w", err)
			}
			if err := dst.Close(); err != nil {
				return fmt.Errorf("close file: %w", err)
			}
			restored++
		}
	}

	fmt.Printf("Restore complete: %d files\n", restored)
	return nil
}

// splitEntry splits "store/some/file" into ("store", "some/file"). Entries
// that escape their root are rejected. Cleaning happens before the guard so
// a name like "store/../../x" cannot sneak past it.
func splitEntry(name string) (label, rel string, ok bool) {
	name = path.Clean(name)
	if name == "." || name == ".." ||
		strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		return "", "", false
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return name, ".", true
	}
	return name[:idx], name[idx+1:], true
}

func dirNonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
