package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/csyeqing/rag-platform/internal/services/providers"
	"github.com/csyeqing/rag-platform/internal/types"
)

type dimEmbedder struct{ dim int }

func (e *dimEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, providers.HashEmbedding(text, e.dim))
	}
	return vectors, nil
}

func (e *dimEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return providers.HashEmbedding(text, e.dim), nil
}

func (e *dimEmbedder) Dim() int { return e.dim }

func TestChunkEmbeddingMatchesEmbedderDim(t *testing.T) {
	svc := &kbService{embedder: &dimEmbedder{dim: 64}}

	stored := svc.chunkEmbedding(make([]float32, 1536))
	if got := len(stored.Slice()); got != 64 {
		t.Fatalf("stored dimension: %d", got)
	}
	stored = svc.chunkEmbedding([]float32{1, 2})
	if got := len(stored.Slice()); got != 64 {
		t.Fatalf("padded dimension: %d", got)
	}
}

func TestSplitTextOverlap(t *testing.T) {
	text := strings.Repeat("甲", 1200)
	parts := SplitText(text, 500, 80)
	if len(parts) != 3 {
		t.Fatalf("parts: %d", len(parts))
	}
	if got := len([]rune(parts[0])); got != 500 {
		t.Fatalf("first window: %d", got)
	}
	if got := len([]rune(parts[1])); got != 500 {
		t.Fatalf("second window: %d", got)
	}
	// 1200 runes with stride 420: final window starts at 840.
	if got := len([]rune(parts[2])); got != 360 {
		t.Fatalf("tail window: %d", got)
	}
}

func TestSplitTextShortAndEmpty(t *testing.T) {
	if parts := SplitText("   \n\t ", 500, 80); parts != nil {
		t.Fatalf("whitespace only: %v", parts)
	}
	parts := SplitText("短文本", 500, 80)
	if len(parts) != 1 || parts[0] != "短文本" {
		t.Fatalf("short text: %v", parts)
	}
	// overlap >= size falls back to a zero-overlap walk and still terminates
	parts = SplitText(strings.Repeat("a", 30), 10, 10)
	if len(parts) != 3 {
		t.Fatalf("degenerate overlap: %v", parts)
	}
}

func TestDecodeTextEncodings(t *testing.T) {
	if got := DecodeText([]byte("plain utf8 中文")); got != "plain utf8 中文" {
		t.Fatalf("utf8 passthrough: %q", got)
	}
	withBOM := append([]byte{0xEF, 0xBB, 0xBF}, []byte("带头的文本")...)
	if got := DecodeText(withBOM); got != "带头的文本" {
		t.Fatalf("bom strip: %q", got)
	}

	gbk, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("孙悟空三打白骨精"))
	if err != nil {
		t.Fatalf("gbk encode: %v", err)
	}
	if got := DecodeText(gbk); got != "孙悟空三打白骨精" {
		t.Fatalf("gbk decode: %q", got)
	}

	// Invalid in both UTF-8 and GB18030 still yields usable text.
	if got := DecodeText([]byte{0xFF, 0x41, 0x42}); !strings.Contains(got, "AB") {
		t.Fatalf("byte fallback: %q", got)
	}
}

func TestIsSupportedFileType(t *testing.T) {
	for _, ext := range []string{".txt", ".md", ".csv", ".TXT"} {
		if !IsSupportedFileType(ext) {
			t.Fatalf("expected %s supported", ext)
		}
	}
	for _, ext := range []string{".pdf", ".docx", ""} {
		if IsSupportedFileType(ext) {
			t.Fatalf("expected %s unsupported", ext)
		}
	}
}

func TestSafeDirName(t *testing.T) {
	if got := safeDirName("  西游记/全本! "); got != "西游记_全本" {
		t.Fatalf("sanitized: %q", got)
	}
	if got := safeDirName("!!!"); got != "" {
		t.Fatalf("empty after strip: %q", got)
	}
	long := safeDirName(strings.Repeat("abcde", 30))
	if len([]rune(long)) != maxLibraryDirRunes {
		t.Fatalf("cap: %d", len([]rune(long)))
	}
}

func TestPathWithin(t *testing.T) {
	if _, ok := pathWithin("/data", "/data/libraries/shared/x.txt"); !ok {
		t.Fatalf("nested path should resolve inside root")
	}
	if _, ok := pathWithin("/data", "/data/../etc/passwd"); ok {
		t.Fatalf("traversal should resolve outside root")
	}
	if _, ok := pathWithin("/data", "/database/x"); ok {
		t.Fatalf("sibling prefix should not count as inside")
	}
	if _, ok := pathWithin("/data", "/data"); !ok {
		t.Fatalf("root itself is inside root")
	}
}

func TestLibraryAccess(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	private := &types.Library{OwnerType: types.OwnerTypePrivate, OwnerID: &owner}
	shared := &types.Library{OwnerType: types.OwnerTypeShared}

	if !CanReadLibrary(private, owner, false) || CanReadLibrary(private, stranger, false) {
		t.Fatalf("private read access wrong")
	}
	if !CanReadLibrary(private, stranger, true) {
		t.Fatalf("admin should read private libraries")
	}
	if !CanReadLibrary(shared, stranger, false) {
		t.Fatalf("shared libraries are readable by everyone")
	}
	if !CanWriteLibrary(private, owner, false) || CanWriteLibrary(private, stranger, false) {
		t.Fatalf("private write access wrong")
	}
	if CanWriteLibrary(shared, stranger, false) || !CanWriteLibrary(shared, stranger, true) {
		t.Fatalf("shared write is admin only")
	}
}
