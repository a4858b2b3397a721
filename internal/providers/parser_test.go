package providers

import "testing"

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("mock|openai:key1, OpenAI:key2|openai:key1")
	if len(refs) != 3 {
		t.Fatalf("expected 3 providers got %d: %+v", len(refs), refs)
	}
	if refs[1].Name != "openai" || refs[1].KeyAlias != "key1" {
		t.Fatalf("unexpected parse result: %+v", refs[1])
	}
	if refs[2].Name != "openai" || refs[2].KeyAlias != "key2" {
		t.Fatalf("unexpected parse result: %+v", refs[2])
	}
	if got := ParseProviderList(" | "); len(got) != 1 || got[0].Name != "mock" {
		t.Fatalf("empty list should fall back to mock: %+v", got)
	}
}
