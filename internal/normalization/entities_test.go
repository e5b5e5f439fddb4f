package normalization

import (
	"strings"
	"testing"
)

func TestNormalizeTerm(t *testing.T) {
	if got := NormalizeTerm("  Kubernetes   Operator "); got != "kubernetes operator" {
		t.Fatalf("ascii term: %q", got)
	}
	if got := NormalizeTerm("孙悟空"); got != "孙悟空" {
		t.Fatalf("cjk term: %q", got)
	}
	if got := NormalizeTerm("GPT-4/turbo"); got != "gpt-4/turbo" {
		t.Fatalf("mixed ascii: %q", got)
	}
	if got := NormalizeTerm("   "); got != "" {
		t.Fatalf("blank: %q", got)
	}
}

func TestResolveEntityAliases(t *testing.T) {
	aliases := ResolveEntityAliases([]string{"朱怀镜", "朱怀市长", "皮杰", "皮副市长"})
	if aliases["朱怀市长"] != "朱怀镜" {
		t.Fatalf("prefix alias: %v", aliases)
	}
	// A one-character stem is too ambiguous to resolve.
	if _, ok := aliases["皮副市长"]; ok {
		t.Fatalf("ambiguous stem resolved: %v", aliases)
	}
}

func TestExtractEntitiesFiltersNoise(t *testing.T) {
	entities := ExtractEntities("孙悟空说，猪八戒和沙僧属于取经团队。", 20)
	joined := strings.Join(entities, ",")
	if !strings.Contains(joined, "孙悟空") || !strings.Contains(joined, "猪八戒") {
		t.Fatalf("expected main entities, got %v", entities)
	}
	for _, e := range entities {
		if strings.HasSuffix(e, "说") {
			t.Fatalf("verb-suffix candidate kept: %v", entities)
		}
	}
}

func TestExtractEntitiesDedupesAndCaps(t *testing.T) {
	text := strings.Repeat("孙悟空 猪八戒 沙僧 唐僧 白龙马 观音 如来 玉帝 ", 3)
	entities := ExtractEntities(text, 4)
	if len(entities) != 4 {
		t.Fatalf("cap not applied: %v", entities)
	}
	seen := map[string]bool{}
	for _, e := range entities {
		if seen[NormalizeTerm(e)] {
			t.Fatalf("duplicate entity: %v", entities)
		}
		seen[NormalizeTerm(e)] = true
	}
}

func TestExtractEntitiesEnglish(t *testing.T) {
	entities := ExtractEntities("The scheduler depends on etcd and kube-apiserver for leader election.", 20)
	joined := strings.Join(entities, ",")
	if !strings.Contains(joined, "etcd") || !strings.Contains(joined, "kube-apiserver") {
		t.Fatalf("english entities missing: %v", entities)
	}
	for _, e := range entities {
		if IsStopword(NormalizeTerm(e)) {
			t.Fatalf("stopword kept: %v", entities)
		}
	}
}

func TestStripTitleSuffix(t *testing.T) {
	stem, ok := StripTitleSuffix("皮副市长")
	if !ok || stem != "皮" {
		t.Fatalf("strip suffix: %q %v", stem, ok)
	}
	if _, ok := StripTitleSuffix("孙悟空"); ok {
		t.Fatalf("unexpected suffix match")
	}
}
