package storage

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/gzip"
	"github.com/parquet-go/parquet-go/compress/lz4"
	"github.com/parquet-go/parquet-go/compress/snappy"
	"github.com/parquet-go/parquet-go/compress/uncompressed"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// Format is the physical layout of a dataset.
type Format int

const (
	FormatSingle Format = iota
	FormatDaily
	FormatMonthly
)

func (f Format) String() string {
	switch f {
	case FormatSingle:
		return "single"
	case FormatDaily:
		return "daily"
	case FormatMonthly:
		return "monthly"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses single, daily or monthly (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return FormatSingle, nil
	case "daily":
		return FormatDaily, nil
	case "monthly":
		return FormatMonthly, nil
	default:
		return 0, fmt.Errorf("unsupported storage format %q (use: single, daily, monthly)", s)
	}
}

// Compression names the parquet page codec.
type Compression string

const (
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
	CompressionGzip   Compression = "gzip"
	CompressionLZ4    Compression = "lz4"
	CompressionNone   Compression = "none"
)

// ParseCompression accepts zstd, snappy, gzip, lz4 and none; empty means zstd.
func ParseCompression(s string) (Compression, error) {
	c := Compression(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case "":
		return CompressionZstd, nil
	case CompressionZstd, CompressionSnappy, CompressionGzip, CompressionLZ4, CompressionNone:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported compression %q (use: zstd, snappy, gzip, lz4, none)", s)
	}
}

func (c Compression) codec() compress.Codec {
	switch c {
	case CompressionSnappy:
		return &snappy.Codec{}
	case CompressionGzip:
		return &gzip.Codec{}
	case CompressionLZ4:
		return &lz4.Codec{}
	case CompressionNone:
		return &uncompressed.Codec{}
	default:
		return &zstd.Codec{}
	}
}
