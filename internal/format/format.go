// Package format defines the SQLite file format constants and the database
// header codec.
//
// Databases are accepted in legacy journal mode only. WAL-mode files
// (write and read version both 2) are detected here and refused.
package format

import (
	"encoding/binary"

	sharcerr "github.com/sharcdb/sharc/core/errors"
)

const (
	// HeaderSize is the database header size in bytes (first 100 bytes of the file).
	HeaderSize = 100

	// MagicString is the magic header string for SQLite 3 database files.
	// Exactly 16 bytes including the null terminator.
	MagicString = "SQLite format 3\000"

	// DefaultPageSize is the page size for newly created databases.
	DefaultPageSize = 4096

	// MinPageSize is the minimum allowed page size.
	MinPageSize = 512

	// MaxPageSize is the maximum allowed page size. Stored in the header as 1.
	MaxPageSize = 65536
)

// Header field offsets within the 100-byte database header.
const (
	OffsetMagic             = 0  // 16 bytes
	OffsetPageSize          = 16 // 2 bytes big-endian; 1 means 65536
	OffsetWriteVersion      = 18 // 1 byte; 1 legacy, 2 WAL
	OffsetReadVersion       = 19 // 1 byte; 1 legacy, 2 WAL
	OffsetReservedSpace     = 20 // 1 byte; reserved bytes at the end of each page
	OffsetMaxPayloadFrac    = 21 // 1 byte; must be 64
	OffsetMinPayloadFrac    = 22 // 1 byte; must be 32
	OffsetLeafPayloadFrac   = 23 // 1 byte; must be 32
	OffsetFileChangeCounter = 24 // 4 bytes big-endian
	OffsetDatabaseSize      = 28 // 4 bytes big-endian; size in pages
	OffsetFirstFreelist     = 32 // 4 bytes big-endian
	OffsetFreelistCount     = 36 // 4 bytes big-endian
	OffsetSchemaCookie      = 40 // 4 bytes big-endian
	OffsetSchemaFormat      = 44 // 4 bytes big-endian; 1..4
	OffsetDefaultCacheSize  = 48 // 4 bytes big-endian
	OffsetLargestRootPage   = 52 // 4 bytes big-endian
	OffsetTextEncoding      = 56 // 4 bytes big-endian; 1 UTF-8, 2 UTF-16le, 3 UTF-16be
	OffsetUserVersion       = 60 // 4 bytes big-endian
	OffsetIncrVacuum        = 64 // 4 bytes big-endian
	OffsetAppID             = 68 // 4 bytes big-endian
	OffsetReserved          = 72 // 20 bytes, zero
	OffsetVersionValidFor   = 92 // 4 bytes big-endian
	OffsetSQLiteVersion     = 96 // 4 bytes big-endian
)

// Text encoding values for the OffsetTextEncoding field.
const (
	EncodingUTF8    = 1
	EncodingUTF16LE = 2
	EncodingUTF16BE = 3
)

// Header represents the 100-byte database file header.
type Header struct {
	Magic             [16]byte
	PageSize          uint16 // raw value; 1 means 65536
	WriteVersion      uint8
	ReadVersion       uint8
	ReservedSpace     uint8
	MaxPayloadFrac    uint8
	MinPayloadFrac    uint8
	LeafPayloadFrac   uint8
	FileChangeCounter uint32
	DatabaseSize      uint32
	FirstFreelist     uint32
	FreelistCount     uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	DefaultCacheSize  uint32
	LargestRootPage   uint32
	TextEncoding      uint32
	UserVersion       uint32
	IncrVacuum        uint32
	AppID             uint32
	Reserved          [20]byte
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// Parse parses and validates the database header from raw bytes.
func (h *Header) Parse(data []byte) error {
	if len(data) < HeaderSize {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"header too short: %d bytes", len(data))
	}

	copy(h.Magic[:], data[OffsetMagic:OffsetMagic+16])
	if string(h.Magic[:]) != MagicString {
		return sharcerr.Wrap(sharcerr.ErrInvalidDatabase, "bad magic")
	}

	h.PageSize = binary.BigEndian.Uint16(data[OffsetPageSize:])
	if !IsValidPageSize(h.ActualPageSize()) {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid page size %d", h.ActualPageSize())
	}

	h.WriteVersion = data[OffsetWriteVersion]
	h.ReadVersion = data[OffsetReadVersion]
	h.ReservedSpace = data[OffsetReservedSpace]
	h.MaxPayloadFrac = data[OffsetMaxPayloadFrac]
	h.MinPayloadFrac = data[OffsetMinPayloadFrac]
	h.LeafPayloadFrac = data[OffsetLeafPayloadFrac]

	h.FileChangeCounter = binary.BigEndian.Uint32(data[OffsetFileChangeCounter:])
	h.DatabaseSize = binary.BigEndian.Uint32(data[OffsetDatabaseSize:])
	h.FirstFreelist = binary.BigEndian.Uint32(data[OffsetFirstFreelist:])
	h.FreelistCount = binary.BigEndian.Uint32(data[OffsetFreelistCount:])
	h.SchemaCookie = binary.BigEndian.Uint32(data[OffsetSchemaCookie:])
	h.SchemaFormat = binary.BigEndian.Uint32(data[OffsetSchemaFormat:])
	h.DefaultCacheSize = binary.BigEndian.Uint32(data[OffsetDefaultCacheSize:])
	h.LargestRootPage = binary.BigEndian.Uint32(data[OffsetLargestRootPage:])
	h.TextEncoding = binary.BigEndian.Uint32(data[OffsetTextEncoding:])
	h.UserVersion = binary.BigEndian.Uint32(data[OffsetUserVersion:])
	h.IncrVacuum = binary.BigEndian.Uint32(data[OffsetIncrVacuum:])
	h.AppID = binary.BigEndian.Uint32(data[OffsetAppID:])
	copy(h.Reserved[:], data[OffsetReserved:OffsetReserved+20])
	h.VersionValidFor = binary.BigEndian.Uint32(data[OffsetVersionValidFor:])
	h.SQLiteVersion = binary.BigEndian.Uint32(data[OffsetSQLiteVersion:])

	return h.Validate()
}

// Validate checks the header invariants the reader depends on.
func (h *Header) Validate() error {
	if string(h.Magic[:]) != MagicString {
		return sharcerr.Wrap(sharcerr.ErrInvalidDatabase, "bad magic")
	}
	if !IsValidPageSize(h.ActualPageSize()) {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid page size %d", h.ActualPageSize())
	}

	// WAL-mode databases are refused, not parsed.
	if h.WriteVersion == 2 && h.ReadVersion == 2 {
		return sharcerr.NewUnsupported("WAL mode", "write/read versions are 2")
	}
	if h.WriteVersion != 1 && h.WriteVersion != 2 {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid write version %d", h.WriteVersion)
	}
	if h.ReadVersion != 1 && h.ReadVersion != 2 {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid read version %d", h.ReadVersion)
	}

	// Payload fractions are fixed constants in format 3.
	if h.MaxPayloadFrac != 64 || h.MinPayloadFrac != 32 || h.LeafPayloadFrac != 32 {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid payload fractions %d/%d/%d",
			h.MaxPayloadFrac, h.MinPayloadFrac, h.LeafPayloadFrac)
	}

	if h.SchemaFormat != 0 && (h.SchemaFormat < 1 || h.SchemaFormat > 4) {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid schema format %d", h.SchemaFormat)
	}
	if h.TextEncoding != 0 &&
		(h.TextEncoding < EncodingUTF8 || h.TextEncoding > EncodingUTF16BE) {
		return sharcerr.Wrapf(sharcerr.ErrInvalidDatabase,
			"invalid text encoding %d", h.TextEncoding)
	}
	return nil
}

// Serialize writes the header into the first 100 bytes of dest.
func (h *Header) Serialize(dest []byte) {
	copy(dest[OffsetMagic:], h.Magic[:])
	binary.BigEndian.PutUint16(dest[OffsetPageSize:], h.PageSize)
	dest[OffsetWriteVersion] = h.WriteVersion
	dest[OffsetReadVersion] = h.ReadVersion
	dest[OffsetReservedSpace] = h.ReservedSpace
	dest[OffsetMaxPayloadFrac] = h.MaxPayloadFrac
	dest[OffsetMinPayloadFrac] = h.MinPayloadFrac
	dest[OffsetLeafPayloadFrac] = h.LeafPayloadFrac
	binary.BigEndian.PutUint32(dest[OffsetFileChangeCounter:], h.FileChangeCounter)
	binary.BigEndian.PutUint32(dest[OffsetDatabaseSize:], h.DatabaseSize)
	binary.BigEndian.PutUint32(dest[OffsetFirstFreelist:], h.FirstFreelist)
	binary.BigEndian.PutUint32(dest[OffsetFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(dest[OffsetSchemaCookie:], h.SchemaCookie)
	binary.BigEndian.PutUint32(dest[OffsetSchemaFormat:], h.SchemaFormat)
	binary.BigEndian.PutUint32(dest[OffsetDefaultCacheSize:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(dest[OffsetLargestRootPage:], h.LargestRootPage)
	binary.BigEndian.PutUint32(dest[OffsetTextEncoding:], h.TextEncoding)
	binary.BigEndian.PutUint32(dest[OffsetUserVersion:], h.UserVersion)
	binary.BigEndian.PutUint32(dest[OffsetIncrVacuum:], h.IncrVacuum)
	binary.BigEndian.PutUint32(dest[OffsetAppID:], h.AppID)
	copy(dest[OffsetReserved:], h.Reserved[:])
	binary.BigEndian.PutUint32(dest[OffsetVersionValidFor:], h.VersionValidFor)
	binary.BigEndian.PutUint32(dest[OffsetSQLiteVersion:], h.SQLiteVersion)
}

// NewHeader creates a header with default values for a new database.
func NewHeader(pageSize int) *Header {
	var raw uint16
	if pageSize == MaxPageSize {
		raw = 1
	} else {
		raw = uint16(pageSize)
	}

	h := &Header{
		PageSize:        raw,
		WriteVersion:    1,
		ReadVersion:     1,
		MaxPayloadFrac:  64,
		MinPayloadFrac:  32,
		LeafPayloadFrac: 32,
		SchemaFormat:    4,
		TextEncoding:    EncodingUTF8,
		SQLiteVersion:   3051002,
	}
	copy(h.Magic[:], MagicString)
	return h
}

// ActualPageSize returns the page size in bytes, expanding the 1 == 65536
// special case.
func (h *Header) ActualPageSize() int {
	if h.PageSize == 1 {
		return MaxPageSize
	}
	return int(h.PageSize)
}

// UsableSize returns the page bytes available to cell content.
func (h *Header) UsableSize() int {
	return h.ActualPageSize() - int(h.ReservedSpace)
}

// IsValidPageSize reports whether size is a power of two in [512, 65536].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}
