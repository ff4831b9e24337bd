package sharc

// FileShareMode names how the database file may be shared with other
// processes while open. Open accepts it in Options but does not apply it:
// the file is opened without any share-mode handling.
type FileShareMode int

const (
	// ShareNone names exclusive use.
	ShareNone FileShareMode = iota
	// ShareRead names sharing with other readers.
	ShareRead
	// ShareReadWrite names sharing with other readers and writers.
	ShareReadWrite
	// ShareDelete names ShareReadWrite plus deletion while open.
	ShareDelete
)

// Options configure Open and OpenMemory.
type Options struct {
	// ReadWrite opens the database writable. Appends to reserved tables
	// and simple single-page inserts are the only supported writes.
	ReadWrite bool

	// PreloadToMemory reads the whole file into an in-memory source at
	// open time. Implies read-only file access.
	PreloadToMemory bool

	// MemoryMap maps the file read-only instead of reading through a
	// file handle. Ignored when PreloadToMemory is set.
	MemoryMap bool

	// PageCacheSize is the page cache capacity in pages. Zero disables
	// the cache, which also removes the serialisation the cache provides:
	// an uncached file source is not safe for concurrent use.
	PageCacheSize int

	// FileShareMode is accepted but not applied; see FileShareMode.
	FileShareMode FileShareMode
}

// DefaultOptions are the options used when none are supplied.
func DefaultOptions() Options {
	return Options{PageCacheSize: 256}
}
