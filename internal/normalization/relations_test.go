package normalization

import "testing"

func TestInferRelationType(t *testing.T) {
	cases := []struct {
		sentence string
		want     string
	}{
		{"猪八戒属于取经团队", RelationIsA},
		{"The control plane includes a scheduler and etcd", RelationContains},
		{"团队包含孙悟空和沙僧", RelationContains},
		{"检索依赖向量索引", RelationDepends},
		{"过拟合导致泛化能力下降", RelationCauses},
		{"孙悟空和猪八戒同行", RelationCoOccurs},
	}
	for _, tc := range cases {
		if got := InferRelationType(tc.sentence); got != tc.want {
			t.Fatalf("InferRelationType(%q) = %q, want %q", tc.sentence, got, tc.want)
		}
	}
}

func TestExtractRelationsOrdersPairs(t *testing.T) {
	relations := ExtractRelations("团队包含孙悟空和沙僧。")
	if len(relations) == 0 {
		t.Fatalf("expected relations")
	}
	for _, rel := range relations {
		if NormalizeTerm(rel.Source) > NormalizeTerm(rel.Target) {
			t.Fatalf("pair not ordered: %+v", rel)
		}
		if rel.Type != RelationContains {
			t.Fatalf("wrong relation type: %+v", rel)
		}
		if rel.Evidence == "" {
			t.Fatalf("missing evidence: %+v", rel)
		}
	}
}

func TestExtractRelationsNeedsTwoEntities(t *testing.T) {
	if relations := ExtractRelations("你好。"); len(relations) != 0 {
		t.Fatalf("single entity sentence produced relations: %v", relations)
	}
}

func TestSplitSentences(t *testing.T) {
	parts := SplitSentences("第一句。第二句！third sentence? 第四句\n第五句")
	if len(parts) != 5 {
		t.Fatalf("sentence count: %d %v", len(parts), parts)
	}
}
