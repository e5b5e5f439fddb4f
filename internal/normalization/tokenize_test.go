package normalization

import (
	"strings"
	"testing"
)

func TestCutForSearchMixedText(t *testing.T) {
	tokens := CutForSearch("取经团队 uses pgvector")
	joined := strings.Join(tokens, ",")
	for _, want := range []string{"取经", "团队", "取经团队", "uses", "pgvector"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing token %q in %v", want, tokens)
		}
	}
}

func TestCutForSearchShortHanRun(t *testing.T) {
	tokens := CutForSearch("悟空")
	if len(tokens) != 1 || tokens[0] != "悟空" {
		t.Fatalf("short run: %v", tokens)
	}
}

func TestCutForSearchLongHanRunBigrams(t *testing.T) {
	tokens := CutForSearch("东胜神洲傲来国")
	for _, tok := range tokens {
		if n := RuneLen(tok); n < 2 || n > 4 {
			t.Fatalf("token length out of range: %q in %v", tok, tokens)
		}
	}
	if !containsString(tokens, "傲来") {
		t.Fatalf("expected bigram coverage: %v", tokens)
	}
}
