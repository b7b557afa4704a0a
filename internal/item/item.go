package item

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes what a clipboard item carries
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// TextState tracks the in-memory representation of the item's text
type TextState string

const (
	TextResident   TextState = "resident"
	TextCompressed TextState = "compressed"
)

// ImageState tracks where the item's image bytes live
type ImageState string

const (
	ImageResident ImageState = "resident"
	ImageEvicted  ImageState = "evicted"
	ImageAbsent   ImageState = "absent"
)

// Item is one captured clipboard entry. It is confined to the history
// goroutine: all mutation happens there, and other goroutines only see
// copies. The sanitized text is canonical for display and copy-back; the
// original is retained for audit.
type Item struct {
	id        uuid.UUID
	createdAt time.Time
	kind      Kind

	textState     TextState
	originalText  string
	sanitizedText string
	originalZ     []byte
	sanitizedZ    []byte // nil while sanitized text equals the original
	textLen       int

	imageState ImageState
	imageData  []byte
	imageZ     []byte // in-memory fallback kept when the blob save failed
	imageRef   string
	evicting   bool

	rev int // bumped on every text write; guards stale background commits
}

// NewText creates a text item. Until the sanitize pass publishes its result
// the sanitized text equals the captured text.
func NewText(text string) *Item {
	return &Item{
		id:            uuid.New(),
		createdAt:     time.Now(),
		kind:          KindText,
		textState:     TextResident,
		originalText:  text,
		sanitizedText: text,
		textLen:       len(text),
		imageState:    ImageAbsent,
	}
}

// NewImage creates an image item holding encoded image bytes
func NewImage(data []byte) *Item {
	return &Item{
		id:         uuid.New(),
		createdAt:  time.Now(),
		kind:       KindImage,
		textState:  TextResident,
		imageState: ImageResident,
		imageData:  data,
	}
}

// FromStored rebuilds an item from its persisted record. Text arrives
// resident; an image item only has its durable reference, so it starts
// evicted.
func FromStored(id uuid.UUID, createdAt time.Time, kind Kind, original, sanitized, imageRef string) *Item {
	it := &Item{
		id:            id,
		createdAt:     createdAt,
		kind:          kind,
		textState:     TextResident,
		originalText:  original,
		sanitizedText: sanitized,
		textLen:       len(sanitized),
		imageState:    ImageAbsent,
	}
	if kind == KindImage {
		it.imageState = ImageEvicted
		it.imageRef = imageRef
	}
	return it
}

func (i *Item) ID() uuid.UUID        { return i.id }
func (i *Item) CreatedAt() time.Time { return i.createdAt }
func (i *Item) Kind() Kind           { return i.kind }

func (i *Item) TextState() TextState   { return i.textState }
func (i *Item) ImageState() ImageState { return i.imageState }
func (i *Item) ImageRef() string       { return i.imageRef }
func (i *Item) Rev() int               { return i.rev }

// TextLen returns the uncompressed length of the sanitized text
func (i *Item) TextLen() int { return i.textLen }

// IsSanitized reports whether sanitization changed the captured text. The
// flag is derived, never stored: resident items compare their strings,
// compressed items carry a separate sanitized blob only when it differs.
func (i *Item) IsSanitized() bool {
	if i.textState == TextCompressed {
		return i.sanitizedZ != nil
	}
	return i.originalText != i.sanitizedText
}

// Text returns the sanitized text, decompressing when needed. Reading does
// not change the tier state.
func (i *Item) Text() (string, error) {
	if i.textState == TextResident {
		return i.sanitizedText, nil
	}
	z := i.sanitizedZ
	if z == nil {
		z = i.originalZ
	}
	data, err := DecompressBytes(z)
	if err != nil {
		return "", ErrTextUnavailable
	}
	return string(data), nil
}

// OriginalText returns the captured text before sanitization
func (i *Item) OriginalText() (string, error) {
	if i.textState == TextResident {
		return i.originalText, nil
	}
	data, err := DecompressBytes(i.originalZ)
	if err != nil {
		return "", ErrTextUnavailable
	}
	return string(data), nil
}

// SetSanitized publishes the sanitize pass result. This is the single text
// write of the item lifecycle.
func (i *Item) SetSanitized(text string) {
	i.rev++
	i.textLen = len(text)

	if i.textState == TextResident {
		i.sanitizedText = text
		return
	}

	// Pressure compressed the item before the scan finished
	orig, err := DecompressBytes(i.originalZ)
	if err == nil && string(orig) == text {
		i.sanitizedZ = nil
		return
	}
	i.sanitizedZ = CompressBytes([]byte(text))
}

// CompressText folds the resident strings into zstd blobs. No-op for image
// items and items already compressed.
func (i *Item) CompressText() {
	if i.kind != KindText || i.textState != TextResident {
		return
	}

	i.textLen = len(i.sanitizedText)
	i.originalZ = CompressBytes([]byte(i.originalText))
	if i.sanitizedText != i.originalText {
		i.sanitizedZ = CompressBytes([]byte(i.sanitizedText))
	} else {
		i.sanitizedZ = nil
	}
	i.originalText = ""
	i.sanitizedText = ""
	i.textState = TextCompressed
}

// Image returns the image bytes if they are in memory. ErrImageEvicted
// tells the caller to reload from the blob store.
func (i *Item) Image() ([]byte, error) {
	if i.kind != KindImage {
		return nil, ErrWrongKind
	}
	if i.imageState == ImageResident {
		return i.imageData, nil
	}
	if i.imageZ != nil {
		data, err := DecompressBytes(i.imageZ)
		if err != nil {
			return nil, ErrImageUnavailable
		}
		return data, nil
	}
	return nil, ErrImageEvicted
}

// BeginEvict hands out the resident image bytes for a background save and
// marks the eviction in flight. It returns false when there is nothing to
// evict or an eviction is already running.
func (i *Item) BeginEvict() ([]byte, bool) {
	if i.kind != KindImage || i.imageState != ImageResident || i.evicting {
		return nil, false
	}
	i.evicting = true
	return i.imageData, true
}

// CommitEvict completes an eviction whose blob save succeeded: the buffer
// is released and only the durable reference remains.
func (i *Item) CommitEvict(ref string) {
	i.imageRef = ref
	i.imageData = nil
	i.imageZ = nil
	i.imageState = ImageEvicted
	i.evicting = false
}

// CommitEvictFallback completes an eviction whose blob save failed: the
// buffer is released but a compressed copy stays in memory so the image
// remains readable.
func (i *Item) CommitEvictFallback(compressed []byte) {
	i.imageZ = compressed
	i.imageData = nil
	i.imageState = ImageEvicted
	i.evicting = false
}

// RestoreImage puts reloaded bytes back in memory. The durable reference is
// kept, so a later eviction does not need another save. Completions apply
// in arrival order: the last writer wins.
func (i *Item) RestoreImage(data []byte) {
	if i.kind != KindImage {
		return
	}
	i.imageData = data
	i.imageZ = nil
	i.imageState = ImageResident
}

// Evicting reports whether a background eviction is in flight
func (i *Item) Evicting() bool { return i.evicting }

// Info is the policy-facing summary of an item's tier state
type Info struct {
	ID         uuid.UUID
	Kind       Kind
	TextState  TextState
	ImageState ImageState
	TextLen    int
	Evicting   bool
	CreatedAt  time.Time
}

// Info snapshots the fields the lifecycle policy decides on
func (i *Item) Info() Info {
	return Info{
		ID:         i.id,
		Kind:       i.kind,
		TextState:  i.textState,
		ImageState: i.imageState,
		TextLen:    i.textLen,
		Evicting:   i.evicting,
		CreatedAt:  i.createdAt,
	}
}
