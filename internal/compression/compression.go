// Package compression handles the gzip artifacts written by backup tasks.
package compression

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"mysql-backup-sync/internal/errors"
)

// Extension is appended to compressed artifacts
const Extension = ".gz"

// Stats contains statistics about a compression operation
type Stats struct {
	OriginalSize     int64         `json:"original_size"`
	CompressedSize   int64         `json:"compressed_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	Level            int           `json:"level"`
	Duration         time.Duration `json:"duration"`
}

// CompressFile gzips src into dst at the given level. The output is written
// to a temporary file next to dst and renamed into place, so dst either does
// not exist or is complete. src is left untouched.
func CompressFile(src, dst string, level int) (*Stats, error) {
	start := time.Now()

	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.BestCompression
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, errors.NewCompressionError("failed to open artifact", err).WithContext("path", src)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, errors.NewCompressionError("failed to create temporary artifact", err).WithContext("path", dst)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	writer, err := gzip.NewWriterLevel(tmp, level)
	if err != nil {
		return nil, errors.NewCompressionError("failed to create gzip writer", err)
	}
	writer.Name = filepath.Base(src)

	originalSize, err := io.Copy(writer, in)
	if err != nil {
		writer.Close()
		return nil, errors.NewCompressionError("failed to write data to gzip writer", err).WithContext("path", src)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.NewCompressionError("failed to close gzip writer", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, errors.NewCompressionError("failed to flush compressed artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewCompressionError("failed to close compressed artifact", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		return nil, errors.NewCompressionError("failed to set artifact permissions", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return nil, errors.NewCompressionError("failed to move compressed artifact into place", err).WithContext("path", dst)
	}
	committed = true

	info, err := os.Stat(dst)
	if err != nil {
		return nil, errors.NewCompressionError("failed to stat compressed artifact", err).WithContext("path", dst)
	}

	return &Stats{
		OriginalSize:     originalSize,
		CompressedSize:   info.Size(),
		CompressionRatio: CalculateCompressionRatio(originalSize, info.Size()),
		Level:            level,
		Duration:         time.Since(start),
	}, nil
}

// OpenReader returns a stream of the decompressed content of a gzip file
func OpenReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
	}
	return &reader{Reader: zr, file: f}, nil
}

type reader struct {
	*gzip.Reader
	file *os.File
}

func (r *reader) Close() error {
	zerr := r.Reader.Close()
	ferr := r.file.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// CalculateCompressionRatio calculates the compression ratio
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}
