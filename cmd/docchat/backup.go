package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Archive layout: config and database files at the top level, local
// storage objects under filesPrefix.
const filesPrefix = "files/"

func backupCmd() *cobra.Command {
	var (
		outputPath   string
		includeFiles bool
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of docchat data (database + config)",
		Long: `Creates a compressed .tar.gz archive containing the SQLite message store
and the configuration file. With --files the local object storage directory
is included too. PostgreSQL databases must be backed up with pg_dump.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := loadConfigOrDefaults()
			if cfg.Database.Driver != "sqlite" {
				return fmt.Errorf("backup only covers sqlite; use pg_dump for %s", cfg.Database.Driver)
			}
			dbPath := config.ExpandPath(cfg.Database.DSN)

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("docchat-backup-%s.tar.gz", ts))
			}

			var entries []archiveEntry
			for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm", cfgPath} {
				if _, err := os.Stat(p); err == nil {
					entries = append(entries, archiveEntry{src: p, name: filepath.Base(p)})
				}
			}
			if len(entries) == 0 {
				return fmt.Errorf("no files to backup (db: %s, config: %s)", dbPath, cfgPath)
			}

			if includeFiles && cfg.Storage.Backend == "local" {
				dir := config.ExpandPath(cfg.Storage.LocalDir)
				objects, err := collectDir(dir)
				if err != nil {
					return fmt.Errorf("scan %s: %w", dir, err)
				}
				entries = append(entries, objects...)
			}

			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			var total int64
			for _, e := range entries {
				if info, err := os.Stat(e.src); err == nil {
					total += info.Size()
				}
			}
			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d (%s)\n", len(entries), humanize.IBytes(uint64(total)))
			for _, e := range entries {
				if strings.HasPrefix(e.name, filesPrefix) {
					continue
				}
				size := int64(0)
				if info, err := os.Stat(e.src); err == nil {
					size = info.Size()
				}
				fmt.Printf("  - %s (%s)\n", e.name, humanize.IBytes(uint64(size)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.docchat/backups/docchat-backup-<timestamp>.tar.gz)")
	cmd.Flags().BoolVar(&includeFiles, "files", false, "include the local storage directory")
	return cmd
}

func restoreCmd() *cobra.Command {
	var (
		inputPath string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore docchat data from a backup archive",
		Long: `Restores the SQLite message store, the configuration file and any stored
objects from a .tar.gz archive created by 'docchat backup'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: docchat restore <file.tar.gz>")
			}

			cfgPath := resolveConfigPath()
			cfg := loadConfigOrDefaults()
			targets := restoreTargets{
				config: cfgPath,
				db:     config.ExpandPath(cfg.Database.DSN),
				files:  config.ExpandPath(cfg.Storage.LocalDir),
			}
			if cfg.Database.Driver != "sqlite" {
				targets.db = ""
			}

			if !force {
				existing := false
				for _, p := range []string{targets.db, targets.config} {
					if p == "" {
						continue
					}
					if _, err := os.Stat(p); err == nil {
						existing = true
					}
				}
				if existing {
					fmt.Printf("WARNING: This will overwrite existing data.\n")
					fmt.Printf("  Database: %s\n", targets.db)
					fmt.Printf("  Config:   %s\n", targets.config)
					fmt.Printf("Use --force to skip this warning.\n")
					return fmt.Errorf("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(inputPath, targets)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

type archiveEntry struct {
	src  string // file on disk
	name string // slash-separated name inside the archive
}

// collectDir lists every regular file under dir as a files/ entry.
func collectDir(dir string) ([]archiveEntry, error) {
	var out []archiveEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == dir {
				return fs.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, archiveEntry{src: p, name: filesPrefix + filepath.ToSlash(rel)})
		return nil
	})
	return out, err
}

// createTarGz writes entries into a gzip-compressed tarball. Close errors
// are returned since they flush the compressed tail.
func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := gzip.NewWriter(out)
	tw := tar.NewWriter(zw)
	for _, e := range entries {
		if err := e.writeTo(tw); err != nil {
			return fmt.Errorf("add %s: %w", e.src, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

func (e archiveEntry) writeTo(tw *tar.Writer) error {
	src, err := os.Open(e.src)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     e.name,
		Size:     info.Size(),
		Mode:     int64(info.Mode().Perm()),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.CopyN(tw, src, info.Size())
	return err
}

type restoreTargets struct {
	config string
	db     string // empty when the database is not sqlite
	files  string
}

// target maps an archive entry name to its destination, or "" to skip it.
func (rt restoreTargets) target(name string) (string, error) {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	if strings.HasPrefix(name, filesPrefix) {
		rel := strings.TrimPrefix(name, filesPrefix)
		if rel == "" || strings.HasPrefix(rel, "../") || path.IsAbs(rel) {
			return "", fmt.Errorf("unsafe path in archive: %s", name)
		}
		return filepath.Join(rt.files, filepath.FromSlash(rel)), nil
	}
	if strings.Contains(name, "/") {
		return "", fmt.Errorf("unexpected path in archive: %s", name)
	}
	switch {
	case name == "config.json" || name == "config.yaml" || name == "config.yml":
		return rt.config, nil
	case rt.db == "":
		return "", nil
	case strings.HasSuffix(name, "-wal"):
		return rt.db + "-wal", nil
	case strings.HasSuffix(name, "-shm"):
		return rt.db + "-shm", nil
	case strings.HasSuffix(name, ".db"):
		return rt.db, nil
	default:
		return "", nil
	}
}

func extractTarGz(archivePath string, rt restoreTargets) ([]string, error) {
	in, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var restored []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		dst, err := rt.target(hdr.Name)
		if err != nil {
			return restored, err
		}
		if dst == "" {
			logger.Warn("skipping archive entry", "name", hdr.Name)
			continue
		}
		if err := writeRestored(dst, tr); err != nil {
			return restored, err
		}
		restored = append(restored, dst)
	}
}

func writeRestored(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("extract %s: %w", dst, err)
	}
	return f.Close()
}
